// Пакет urlsign — проверка схемы URL и выдача подписанных ссылок с истечением.
// Подпись: hex(HMAC-SHA256(secret, url || expires)), где expires — unix-время
// в секундах. Проверка подписи выполняется отдельным сервисом доступа.
package urlsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL — время жизни подписанной ссылки по умолчанию.
const DefaultTTL = time.Hour

// ErrMissingSecret — секрет подписи не задан.
var ErrMissingSecret = errors.New("секрет подписи URL не задан")

// Signer — подпись URL. Неизменяем после создания, безопасен для
// конкурентного использования.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option — опция Signer.
type Option func(*Signer)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// New создаёт Signer. Пустой секрет — ошибка конфигурации,
// значения по умолчанию для секрета нет.
// ttl <= 0 заменяется на DefaultTTL.
func New(secret string, ttl time.Duration, logger *slog.Logger, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "url_signer")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL возвращает время жизни подписанной ссылки.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// ValidateURL возвращает true только для абсолютных URL со схемой http или https.
// Ошибка парсинга не пробрасывается — логируется как WARN.
func (s *Signer) ValidateURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		s.logger.Warn("Некорректный формат URL",
			slog.String("url", raw),
			slog.String("error", err.Error()),
		)
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		s.logger.Debug("Схема URL не поддерживается",
			slog.String("url", raw),
			slog.String("scheme", u.Scheme),
		)
		return false
	}
	return u.Host != ""
}

// Sign добавляет к URL параметры expires и signature.
// Подписывается исходная строка URL, без добавленных параметров.
func (s *Signer) Sign(raw string) string {
	expires := s.now().Unix() + int64(s.ttl/time.Second)
	signature := s.signature(raw, expires)

	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sexpires=%d&signature=%s", raw, sep, expires, signature)
}

// signature вычисляет hex(HMAC-SHA256(secret, url || expires)).
func (s *Signer) signature(raw string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(raw))
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
