// Пакет model — доменные модели Provision Module.
// ContentRecord — маппинг таблицы contents, TextContent — таблицы text_contents.
package model

import (
	"encoding/json"
	"time"
)

// ContentType — вид контента. Хранится в БД как свободный текст,
// поэтому значение проверяется при каждом provisioning.
type ContentType string

const (
	ContentTypePDF   ContentType = "pdf"
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
	ContentTypeLink  ContentType = "link"
	ContentTypeText  ContentType = "text"
)

// AllContentTypes — закрытый список поддерживаемых видов контента.
var AllContentTypes = []ContentType{
	ContentTypePDF,
	ContentTypeImage,
	ContentTypeVideo,
	ContentTypeLink,
	ContentTypeText,
}

// Valid сообщает, входит ли значение в закрытый список видов.
func (t ContentType) Valid() bool {
	for _, known := range AllContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ContentRecord — запись контента в таблице contents.
// Provision Module использует эту модель только для чтения.
type ContentRecord struct {
	// ID — UUID контента
	ID string
	// TenantID — компания-владелец (столбец company_id)
	TenantID string
	// Title — заголовок
	Title string
	// Description — описание (опционально)
	Description *string
	// Type — заявленный вид контента (может содержать legacy-значения)
	Type string
	// URL — локальный путь к файлу или внешний URL
	URL string
	// Cover — URL обложки (опционально)
	Cover *string
	// TotalLikes — счётчик лайков
	TotalLikes int
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
	// DeletedAt — отметка soft delete (nil — запись активна)
	DeletedAt *time.Time
	// TextContent — текстовое тело (только для type = text, может отсутствовать)
	TextContent *TextContent
}

// TextContent — текстовое тело контента (связь 1:1 с ContentRecord).
type TextContent struct {
	ID        string
	ContentID string
	// Text может быть NULL в БД
	Text      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuxiliaryData — производные данные, вычисляемые при каждом provisioning.
type AuxiliaryData struct {
	// URL — подписанный URL или пустая строка, если исходный URL не прошёл проверку
	URL string
	// Bytes — размер файла; 0, если файл недоступен
	Bytes int64
}

// ProvisionedContent — ответ provisioning.
// Поля перечислены явно: tenant и служебные поля записи в ответ не попадают.
type ProvisionedContent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Type        string    `json:"type"`
	Cover       *string   `json:"cover"`
	TotalLikes  int       `json:"total_likes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	URL           string         `json:"url"`
	Bytes         int64          `json:"bytes"`
	AllowDownload bool           `json:"allow_download"`
	IsEmbeddable  bool           `json:"is_embeddable"`
	Format        *string        `json:"format"`
	Metadata      map[string]any `json:"metadata"`

	// Text заполняется только для type = text; для остальных видов
	// поле text_content в JSON отсутствует.
	Text *TextBody `json:"-"`
}

// TextBody — текст варианта text. Value == nil сериализуется как null.
type TextBody struct {
	Value *string
}

// MarshalJSON добавляет text_content только для варианта text.
func (p ProvisionedContent) MarshalJSON() ([]byte, error) {
	type plain ProvisionedContent
	if p.Text == nil {
		return json.Marshal(plain(p))
	}
	return json.Marshal(struct {
		plain
		TextContent *string `json:"text_content"`
	}{plain: plain(p), TextContent: p.Text.Value})
}
