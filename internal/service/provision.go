// provision.go — pipeline выдачи доступа к контенту.
// Запись (БД, в разрезе компании) → размер файла (локальное хранилище) →
// подписанная ссылка → вариант ответа по виду контента.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/provision-module/internal/domain/model"
	"github.com/bigkaa/goartstore/provision-module/internal/repository"
	"github.com/bigkaa/goartstore/provision-module/internal/storage/pathguard"
	"github.com/bigkaa/goartstore/provision-module/internal/transform"
	"github.com/bigkaa/goartstore/provision-module/internal/urlsign"
)

// Prometheus-метрики provisioning.
var (
	provisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_provision_total",
		Help: "Общее количество запросов provisioning (по результату).",
	}, []string{"result"})

	provisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_provision_duration_seconds",
		Help:    "Длительность provisioning от валидации до построения ответа.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	fileProbeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_file_probe_failures_total",
		Help: "Количество неудачных определений размера файла (по причине).",
	}, []string{"reason"})
)

// ProvisionService — pipeline provisioning. Состояния между запросами нет.
type ProvisionService struct {
	repo        repository.ContentRepository
	fs          afero.Fs
	guard       *pathguard.Guard
	signer      *urlsign.Signer
	transformer *transform.Transformer
	logger      *slog.Logger
}

// NewProvisionService создаёт pipeline provisioning.
// fs — файловая система локального хранилища (afero.NewOsFs в production).
func NewProvisionService(
	repo repository.ContentRepository,
	fs afero.Fs,
	guard *pathguard.Guard,
	signer *urlsign.Signer,
	transformer *transform.Transformer,
	logger *slog.Logger,
) *ProvisionService {
	return &ProvisionService{
		repo:        repo,
		fs:          fs,
		guard:       guard,
		signer:      signer,
		transformer: transformer,
		logger:      logger.With(slog.String("component", "provision_service")),
	}
}

// Provision выполняет полный pipeline provisioning.
//
// Pipeline:
//  1. Проверить contentID и tenantID
//  2. Найти запись в пределах компании
//  3. Определить размер файла (ошибки не прерывают pipeline, bytes = 0)
//  4. Подписать URL (невалидный URL — пустая строка)
//  5. Проверить вид контента
//  6. Построить вариант ответа
//
// Возвращает *ProvisionError для всех ошибок клиента.
func (s *ProvisionService) Provision(ctx context.Context, contentID, tenantID string) (*model.ProvisionedContent, error) {
	start := time.Now()

	out, err := s.provision(ctx, contentID, tenantID)

	provisionDuration.Observe(time.Since(start).Seconds())
	provisionTotal.WithLabelValues(resultLabel(err)).Inc()

	return out, err
}

func (s *ProvisionService) provision(ctx context.Context, contentID, tenantID string) (*model.ProvisionedContent, error) {
	if contentID == "" {
		s.logger.Error("Не задан идентификатор контента",
			slog.String("tenant_id", tenantID),
		)
		return nil, invalidInput(FieldContentID, msgContentIDRequired)
	}
	if tenantID == "" {
		s.logger.Error("Не задан идентификатор компании",
			slog.String("content_id", contentID),
		)
		return nil, invalidInput(FieldTenantID, msgTenantIDRequired)
	}

	record, err := s.repo.Find(ctx, contentID, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Контент не найден",
				slog.String("content_id", contentID),
				slog.String("tenant_id", tenantID),
			)
			return nil, notFound(msgContentNotFound)
		}
		// Причина остаётся в логе, клиент получает not found
		s.logger.Error("Ошибка получения контента",
			slog.String("content_id", contentID),
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, notFound(msgFetchFailed)
	}
	if record == nil {
		s.logger.Warn("Контент не найден",
			slog.String("content_id", contentID),
			slog.String("tenant_id", tenantID),
		)
		return nil, notFound(msgContentNotFound)
	}

	aux := model.AuxiliaryData{
		Bytes: s.fileSize(record),
	}
	if s.signer.ValidateURL(record.URL) {
		aux.URL = s.signer.Sign(record.URL)
	}

	if record.Type == "" {
		s.logger.Warn("Вид контента не задан",
			slog.String("content_id", record.ID),
		)
		return nil, invalidInput(FieldType, msgTypeMissing)
	}

	contentType := model.ContentType(record.Type)
	if !contentType.Valid() {
		s.logger.Warn("Неподдерживаемый вид контента",
			slog.String("content_id", record.ID),
			slog.String("type", record.Type),
		)
		return nil, unsupportedType(record.Type)
	}

	out, err := s.transformer.Transform(contentType, record, aux)
	if err != nil {
		return nil, unsupportedType(record.Type)
	}

	s.logger.Debug("Provisioning выполнен",
		slog.String("content_id", record.ID),
		slog.String("type", record.Type),
		slog.Int64("bytes", aux.Bytes),
		slog.Bool("signed", aux.URL != ""),
	)

	return out, nil
}

// fileSize возвращает размер локального файла записи или 0.
// URL со схемой (http, https и т.п.) на диске не ищется.
func (s *ProvisionService) fileSize(record *model.ContentRecord) int64 {
	if !isLocalPath(record.URL) {
		return 0
	}

	if !s.guard.IsValidPath(record.URL) {
		s.logger.Warn("Путь вне корня хранилища",
			slog.String("content_id", record.ID),
			slog.String("path", record.URL),
			slog.String("root", s.guard.Root()),
		)
		fileProbeFailuresTotal.WithLabelValues("invalid_path").Inc()
		return 0
	}

	info, err := s.fs.Stat(record.URL)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("Файл контента отсутствует",
				slog.String("content_id", record.ID),
				slog.String("path", record.URL),
			)
			fileProbeFailuresTotal.WithLabelValues("not_exist").Inc()
			return 0
		}
		s.logger.Error("Ошибка получения размера файла",
			slog.String("content_id", record.ID),
			slog.String("path", record.URL),
			slog.String("error", err.Error()),
		)
		fileProbeFailuresTotal.WithLabelValues("stat_error").Inc()
		return 0
	}

	return info.Size()
}

// isLocalPath — строка не является абсолютным URL со схемой.
func isLocalPath(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		// Непарсируемая строка проверяется PathGuard как путь
		return true
	}
	return u.Scheme == ""
}

// resultLabel — значение лейбла result для pm_provision_total.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.Kind.String()
	}
	return "error"
}
