// provision.go — обработчик GET /api/v1/contents/{content_id}/provision.
// Компания берётся из claims токена, не из параметров запроса.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/provision-module/internal/api/errors"
	"github.com/bigkaa/goartstore/provision-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/provision-module/internal/service"
)

// ProvisionContent — реализация GET /api/v1/contents/{content_id}/provision.
// Авторизация: RequireRoleOrScope (admin, readonly / contents:read) — на уровне middleware.
func (h *APIHandler) ProvisionContent(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || claims.Subject == "" {
		apierrors.Unauthorized(w, "Субъект не аутентифицирован")
		return
	}
	if claims.TenantID == "" {
		h.logger.Warn("В токене нет идентификатора компании",
			slog.String("subject", claims.Subject),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		apierrors.Unauthorized(w, "В токене отсутствует идентификатор компании")
		return
	}

	contentID := chi.URLParam(r, "content_id")

	out, err := h.provisioner.Provision(r.Context(), contentID, claims.TenantID)
	if err != nil {
		h.writeProvisionError(w, r, contentID, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// writeProvisionError маппит ошибки pipeline на HTTP-ответы.
func (h *APIHandler) writeProvisionError(w http.ResponseWriter, r *http.Request, contentID string, err error) {
	var pe *service.ProvisionError
	if !errors.As(err, &pe) {
		h.logger.Error("Неожиданная ошибка provisioning",
			slog.String("content_id", contentID),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка provisioning")
		return
	}

	switch {
	case pe.MissingIdentifier():
		apierrors.UnprocessableEntity(w, pe.Message)
	case errors.Is(pe, service.ErrInvalidInput):
		apierrors.ValidationError(w, pe.Message)
	case errors.Is(pe, service.ErrNotFound):
		apierrors.NotFound(w, pe.Message)
	default:
		apierrors.InternalError(w, pe.Message)
	}
}
