// handler.go — основной обработчик API Provision Module.
// Объединяет health и provisioning, маршруты регистрируются в server.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/provision-module/internal/domain/model"
)

// ContentProvisioner — pipeline provisioning (реализуется service.ProvisionService).
type ContentProvisioner interface {
	Provision(ctx context.Context, contentID, tenantID string) (*model.ProvisionedContent, error)
}

// APIHandler — основной обработчик API Provision Module.
type APIHandler struct {
	health      *HealthHandler
	provisioner ContentProvisioner
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	provisioner ContentProvisioner,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		provisioner: provisioner,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
