package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/provision-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/provision-module/internal/domain/model"
	"github.com/bigkaa/goartstore/provision-module/internal/service"
)

const (
	testContentID = "4372ebd1-2ee8-4501-9ed5-549df46d0eb0"
	testTenantID  = "123e4567-e89b-12d3-a456-426614174000"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockProvisioner — mock ContentProvisioner.
type mockProvisioner struct {
	provisionFn func(ctx context.Context, contentID, tenantID string) (*model.ProvisionedContent, error)
	calls       int
}

func (m *mockProvisioner) Provision(ctx context.Context, contentID, tenantID string) (*model.ProvisionedContent, error) {
	m.calls++
	return m.provisionFn(ctx, contentID, tenantID)
}

// serveProvision выполняет запрос через chi-роутер с указанными claims.
func serveProvision(t *testing.T, p ContentProvisioner, path string, claims *middleware.AuthClaims) *httptest.ResponseRecorder {
	t.Helper()
	h := NewAPIHandler(NewHealthHandler(nil, nil), p, testLogger())

	r := chi.NewRouter()
	r.Get("/api/v1/contents/{content_id}/provision", h.ProvisionContent)

	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if claims != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func userClaims() *middleware.AuthClaims {
	return &middleware.AuthClaims{
		Subject:       "user-1",
		SubjectType:   middleware.SubjectTypeUser,
		TenantID:      testTenantID,
		EffectiveRole: middleware.RoleReadonly,
		Roles:         []string{middleware.RoleReadonly},
	}
}

// errorCode извлекает error.code из тела ответа.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования тела: %v", err)
	}
	return body.Error.Code, body.Error.Message
}

func TestProvisionContent_Success(t *testing.T) {
	format := "pdf"
	p := &mockProvisioner{
		provisionFn: func(_ context.Context, contentID, tenantID string) (*model.ProvisionedContent, error) {
			if contentID != testContentID {
				t.Errorf("contentID = %q, ожидался %q", contentID, testContentID)
			}
			if tenantID != testTenantID {
				t.Errorf("tenantID = %q, ожидался %q", tenantID, testTenantID)
			}
			return &model.ProvisionedContent{
				ID:            contentID,
				Title:         "Doc",
				Type:          "pdf",
				URL:           "/static/doc.pdf?expires=1&signature=ab",
				Bytes:         150000,
				Format:        &format,
				AllowDownload: true,
				Metadata:      map[string]any{"pages": int64(3)},
			}, nil
		},
	}

	w := serveProvision(t, p, "/api/v1/contents/"+testContentID+"/provision", userClaims())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидался 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if body["format"] != "pdf" || body["bytes"] != float64(150000) {
		t.Errorf("неожиданный ответ: %v", body)
	}
	if _, ok := body["text_content"]; ok {
		t.Error("text_content не ожидалось для pdf")
	}
}

func TestProvisionContent_Unauthenticated(t *testing.T) {
	tests := []struct {
		name   string
		claims *middleware.AuthClaims
	}{
		{name: "нет claims", claims: nil},
		{name: "пустой subject", claims: &middleware.AuthClaims{TenantID: testTenantID}},
		{name: "нет компании", claims: &middleware.AuthClaims{Subject: "user-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvisioner{}
			w := serveProvision(t, p, "/api/v1/contents/"+testContentID+"/provision", tt.claims)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, ожидался 401", w.Code)
			}
			if code, _ := errorCode(t, w); code != "UNAUTHORIZED" {
				t.Errorf("code = %q, ожидался UNAUTHORIZED", code)
			}
			if p.calls != 0 {
				t.Error("pipeline не должен вызываться без аутентификации")
			}
		})
	}
}

func TestProvisionContent_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "нет content id",
			err:        &service.ProvisionError{Kind: service.KindInvalidInput, Field: service.FieldContentID, Message: "content id required"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "нет tenant id",
			err:        &service.ProvisionError{Kind: service.KindInvalidInput, Field: service.FieldTenantID, Message: "tenant id required"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "нет вида контента",
			err:        &service.ProvisionError{Kind: service.KindInvalidInput, Field: service.FieldType, Message: "content type is missing"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "неподдерживаемый вид",
			err:        &service.ProvisionError{Kind: service.KindUnsupportedType, Field: service.FieldType, Message: "unsupported content type: audio"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "не найден",
			err:        &service.ProvisionError{Kind: service.KindNotFound, Message: "content not found"},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "неизвестная ошибка",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvisioner{
				provisionFn: func(context.Context, string, string) (*model.ProvisionedContent, error) {
					return nil, tt.err
				},
			}
			w := serveProvision(t, p, "/api/v1/contents/"+testContentID+"/provision", userClaims())

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, ожидался %d", w.Code, tt.wantStatus)
			}
			code, msg := errorCode(t, w)
			if code != tt.wantCode {
				t.Errorf("code = %q, ожидался %q", code, tt.wantCode)
			}
			var pe *service.ProvisionError
			if errors.As(tt.err, &pe) && msg != pe.Message {
				t.Errorf("message = %q, ожидалось %q", msg, pe.Message)
			}
			if msg == "boom" {
				t.Error("текст внутренней ошибки не должен попадать клиенту")
			}
		})
	}
}

// TestProvisionContent_EmptyID — без параметра пути pipeline получает пустой id.
func TestProvisionContent_EmptyID(t *testing.T) {
	p := &mockProvisioner{
		provisionFn: func(_ context.Context, contentID, _ string) (*model.ProvisionedContent, error) {
			if contentID != "" {
				t.Errorf("contentID = %q, ожидалась пустая строка", contentID)
			}
			return nil, &service.ProvisionError{Kind: service.KindInvalidInput, Field: service.FieldContentID, Message: "content id required"}
		},
	}
	h := NewAPIHandler(NewHealthHandler(nil, nil), p, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contents//provision", http.NoBody)
	req = req.WithContext(middleware.WithClaims(req.Context(), userClaims()))
	w := httptest.NewRecorder()
	h.ProvisionContent(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, ожидался 422", w.Code)
	}
	if p.calls != 1 {
		t.Errorf("вызовов pipeline = %d, ожидался 1", p.calls)
	}
}
