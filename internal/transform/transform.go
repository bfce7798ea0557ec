// Пакет transform — построение ответа provisioning по виду контента.
// Один exhaustive switch по model.ContentType; каждый вид задаёт
// allow_download, is_embeddable, format и metadata.
package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/bigkaa/goartstore/provision-module/internal/domain/model"
)

// ErrUnsupportedType — вид контента не входит в закрытый список.
var ErrUnsupportedType = errors.New("unsupported content type")

// Константы вариантов.
const (
	pdfBytesPerPage      = 50000
	pdfDefaultPages      = 1
	videoBytesPerSecond  = 100000
	videoDefaultDuration = 10

	defaultImageFormat = "jpg"
	defaultVideoFormat = "mp4"
	pdfFormat          = "pdf"
	textFormat         = "text/plain"

	// DefaultLinkURL подставляется для link без URL.
	DefaultLinkURL = "http://default.com"
)

// UnsupportedTypeError — ошибка диспетчера для неизвестного вида.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupportedType.Error(), e.Type)
}

// Is позволяет сравнивать через errors.Is(err, ErrUnsupportedType).
func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// Transformer — диспетчер вариантов. Не имеет состояния, кроме логгера.
type Transformer struct {
	logger *slog.Logger
}

// New создаёт Transformer.
func New(logger *slog.Logger) *Transformer {
	return &Transformer{
		logger: logger.With(slog.String("component", "content_transformer")),
	}
}

// Transform строит ответ для вида contentType.
// Неизвестный вид (недостижим после проверки в pipeline) — WARN и UnsupportedTypeError.
func (t *Transformer) Transform(
	contentType model.ContentType,
	record *model.ContentRecord,
	aux model.AuxiliaryData,
) (*model.ProvisionedContent, error) {
	switch contentType {
	case model.ContentTypePDF:
		return pdf(record, aux), nil
	case model.ContentTypeImage:
		return image(record, aux), nil
	case model.ContentTypeVideo:
		return video(record, aux), nil
	case model.ContentTypeLink:
		return link(record), nil
	case model.ContentTypeText:
		return text(record, aux), nil
	default:
		t.logger.Warn("Неподдерживаемый вид контента",
			slog.String("content_id", record.ID),
			slog.String("type", string(contentType)),
		)
		return nil, &UnsupportedTypeError{Type: string(contentType)}
	}
}

// base переносит отображаемые поля записи и вспомогательные данные.
func base(record *model.ContentRecord, aux model.AuxiliaryData) *model.ProvisionedContent {
	return &model.ProvisionedContent{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		Type:        record.Type,
		Cover:       record.Cover,
		TotalLikes:  record.TotalLikes,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
		URL:         aux.URL,
		Bytes:       aux.Bytes,
	}
}

func pdf(record *model.ContentRecord, aux model.AuxiliaryData) *model.ProvisionedContent {
	out := base(record, aux)
	out.AllowDownload = true
	out.IsEmbeddable = false
	out.Format = strPtr(pdfFormat)
	out.Metadata = map[string]any{
		"author":    "Unknown",
		"pages":     orDefault(aux.Bytes/pdfBytesPerPage, pdfDefaultPages),
		"encrypted": false,
	}
	return out
}

func image(record *model.ContentRecord, aux model.AuxiliaryData) *model.ProvisionedContent {
	out := base(record, aux)
	out.AllowDownload = true
	out.IsEmbeddable = true
	out.Format = strPtr(extension(record.URL, defaultImageFormat))
	out.Metadata = map[string]any{
		"resolution":   "1920x1080",
		"aspect_ratio": "16:9",
	}
	return out
}

func video(record *model.ContentRecord, aux model.AuxiliaryData) *model.ProvisionedContent {
	out := base(record, aux)
	out.AllowDownload = false
	out.IsEmbeddable = true
	out.Format = strPtr(extension(record.URL, defaultVideoFormat))
	out.Metadata = map[string]any{
		"duration":   orDefault(aux.Bytes/videoBytesPerSecond, videoDefaultDuration),
		"resolution": "1080p",
	}
	return out
}

// link отдаёт исходный URL записи без подписи; bytes всегда 0.
func link(record *model.ContentRecord) *model.ProvisionedContent {
	linkURL := record.URL
	if linkURL == "" {
		linkURL = DefaultLinkURL
	}
	out := base(record, model.AuxiliaryData{URL: linkURL})
	out.AllowDownload = false
	out.IsEmbeddable = true
	out.Format = nil
	out.Metadata = map[string]any{
		"trusted": strings.Contains(linkURL, "https"),
	}
	return out
}

func text(record *model.ContentRecord, aux model.AuxiliaryData) *model.ProvisionedContent {
	out := base(record, aux)
	out.AllowDownload = false
	out.IsEmbeddable = false
	out.Format = strPtr(textFormat)
	out.Metadata = map[string]any{}

	body := &model.TextBody{}
	if record.TextContent != nil {
		body.Value = record.TextContent.Text
	}
	out.Text = body
	return out
}

// extension возвращает расширение URL без точки, как оно записано (регистр
// не меняется), или def, если расширения нет.
func extension(raw, def string) string {
	ext := strings.TrimPrefix(path.Ext(raw), ".")
	if ext == "" {
		return def
	}
	return ext
}

// orDefault заменяет нулевой результат деления на значение по умолчанию.
// Ноль подменяется независимо от того, был ли bytes нулевым.
func orDefault(v int64, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func strPtr(s string) *string {
	return &s
}
