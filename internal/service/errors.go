// errors.go — ошибки бизнес-логики provisioning.
package service

import (
	"errors"

	"github.com/bigkaa/goartstore/provision-module/internal/transform"
)

var (
	// ErrInvalidInput — некорректные входные данные клиента.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound — контент не найден (или недоступен для чтения).
	ErrNotFound = errors.New("content not found")
	// ErrUnsupportedType — вид контента вне закрытого списка.
	// Частный случай ErrInvalidInput.
	ErrUnsupportedType = transform.ErrUnsupportedType
)

// Kind — класс ошибки provisioning.
type Kind int

const (
	// KindInvalidInput — не задан идентификатор или вид контента.
	KindInvalidInput Kind = iota + 1
	// KindNotFound — запись отсутствует, удалена, принадлежит другой
	// компании, или хранилище вернуло ошибку.
	KindNotFound
	// KindUnsupportedType — вид контента не поддерживается.
	KindUnsupportedType
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindUnsupportedType:
		return "unsupported_type"
	default:
		return "unknown"
	}
}

// Поля, к которым относится ошибка входных данных.
const (
	FieldContentID = "content_id"
	FieldTenantID  = "tenant_id"
	FieldType      = "type"
)

// ProvisionError — ошибка pipeline с сообщением для клиента.
// Внутренняя причина в Message не попадает, она только логируется.
type ProvisionError struct {
	Kind    Kind
	Message string
	// Field — поле, к которому относится ошибка входных данных (или "").
	Field string
}

// MissingIdentifier — не задан идентификатор контента или компании.
func (e *ProvisionError) MissingIdentifier() bool {
	return e.Kind == KindInvalidInput && (e.Field == FieldContentID || e.Field == FieldTenantID)
}

func (e *ProvisionError) Error() string {
	return e.Message
}

// Is сопоставляет ошибку с sentinel-значениями пакета.
func (e *ProvisionError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput || e.Kind == KindUnsupportedType
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnsupportedType:
		return e.Kind == KindUnsupportedType
	}
	return false
}

// Сообщения об ошибках, возвращаемые клиенту.
const (
	msgContentIDRequired = "content id required"
	msgTenantIDRequired  = "tenant id required"
	msgFetchFailed       = "error occurred while fetching content"
	msgContentNotFound   = "content not found"
	msgTypeMissing       = "content type is missing"
)

func invalidInput(field, msg string) *ProvisionError {
	return &ProvisionError{Kind: KindInvalidInput, Message: msg, Field: field}
}

func notFound(msg string) *ProvisionError {
	return &ProvisionError{Kind: KindNotFound, Message: msg}
}

func unsupportedType(contentType string) *ProvisionError {
	return &ProvisionError{
		Kind:    KindUnsupportedType,
		Message: (&transform.UnsupportedTypeError{Type: contentType}).Error(),
		Field:   FieldType,
	}
}
