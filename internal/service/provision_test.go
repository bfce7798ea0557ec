package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/provision-module/internal/domain/model"
	"github.com/bigkaa/goartstore/provision-module/internal/repository"
	"github.com/bigkaa/goartstore/provision-module/internal/storage/pathguard"
	"github.com/bigkaa/goartstore/provision-module/internal/transform"
	"github.com/bigkaa/goartstore/provision-module/internal/urlsign"
)

const (
	testContentID = "4372ebd1-2ee8-4501-9ed5-549df46d0eb0"
	testTenantID  = "123e4567-e89b-12d3-a456-426614174000"
)

// --- Mock ContentRepository ---

type mockContentRepo struct {
	findFn func(ctx context.Context, id, tenantID string) (*model.ContentRecord, error)
	calls  int
}

func (m *mockContentRepo) Find(ctx context.Context, id, tenantID string) (*model.ContentRecord, error) {
	m.calls++
	if m.findFn != nil {
		return m.findFn(ctx, id, tenantID)
	}
	return nil, repository.ErrNotFound
}

// recordRepo возвращает mock, отдающий запись только своей компании.
func recordRepo(rec *model.ContentRecord) *mockContentRepo {
	return &mockContentRepo{
		findFn: func(_ context.Context, id, tenantID string) (*model.ContentRecord, error) {
			if id != rec.ID || tenantID != rec.TenantID {
				return nil, repository.ErrNotFound
			}
			return rec, nil
		},
	}
}

// statErrorFs — файловая система, у которой Stat всегда завершается ошибкой.
type statErrorFs struct {
	afero.Fs
}

func (statErrorFs) Stat(name string) (os.FileInfo, error) {
	return nil, &os.PathError{Op: "stat", Path: name, Err: errors.New("permission denied")}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var fixedNow = time.Date(2025, 3, 29, 21, 17, 30, 0, time.UTC)

// newTestProvisionService собирает pipeline с корнем /static.
func newTestProvisionService(t *testing.T, repo repository.ContentRepository, fs afero.Fs) *ProvisionService {
	t.Helper()
	logger := testLogger()

	guard, err := pathguard.New("/static")
	if err != nil {
		t.Fatalf("pathguard.New: %v", err)
	}
	signer, err := urlsign.New("test-secret", time.Hour, logger,
		urlsign.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("urlsign.New: %v", err)
	}
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	return NewProvisionService(repo, fs, guard, signer, transform.New(logger), logger)
}

// writeFile создаёт файл заданного размера в in-memory FS.
func writeFile(t *testing.T, fs afero.Fs, path string, size int) {
	t.Helper()
	if err := afero.WriteFile(fs, path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("afero.WriteFile(%s): %v", path, err)
	}
}

func newRecord(contentType, url string) *model.ContentRecord {
	desc := "Description"
	return &model.ContentRecord{
		ID:          testContentID,
		TenantID:    testTenantID,
		Title:       "Test " + contentType,
		Description: &desc,
		Type:        contentType,
		URL:         url,
		TotalLikes:  10,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
}

func assertKind(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	var pe *ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("ожидалась ProvisionError, получена %v", err)
	}
	if pe.Kind != kind {
		t.Errorf("Kind = %v, ожидался %v", pe.Kind, kind)
	}
	if message != "" && pe.Message != message {
		t.Errorf("Message = %q, ожидалось %q", pe.Message, message)
	}
}

// --- Тесты ---

func TestProvision_MissingIdentifiers(t *testing.T) {
	tests := []struct {
		name      string
		contentID string
		tenantID  string
		message   string
	}{
		{name: "нет content id", contentID: "", tenantID: testTenantID, message: "content id required"},
		{name: "нет tenant id", contentID: testContentID, tenantID: "", message: "tenant id required"},
		{name: "нет обоих", contentID: "", tenantID: "", message: "content id required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockContentRepo{}
			svc := newTestProvisionService(t, repo, nil)

			out, err := svc.Provision(context.Background(), tt.contentID, tt.tenantID)
			if out != nil {
				t.Errorf("ожидался nil результат, получен %+v", out)
			}
			assertKind(t, err, KindInvalidInput, tt.message)
			if !errors.Is(err, ErrInvalidInput) {
				t.Error("errors.Is(err, ErrInvalidInput) = false")
			}
			var pe *ProvisionError
			if errors.As(err, &pe) && !pe.MissingIdentifier() {
				t.Error("MissingIdentifier() = false для отсутствующего идентификатора")
			}
			if repo.calls != 0 {
				t.Errorf("хранилище вызвано %d раз, ожидалось 0", repo.calls)
			}
		})
	}
}

func TestProvision_NotFound(t *testing.T) {
	svc := newTestProvisionService(t, &mockContentRepo{}, nil)

	_, err := svc.Provision(context.Background(), testContentID, testTenantID)
	assertKind(t, err, KindNotFound, "content not found")
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false")
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Error("not found не должен считаться ErrInvalidInput")
	}
}

func TestProvision_NilRecord(t *testing.T) {
	repo := &mockContentRepo{
		findFn: func(context.Context, string, string) (*model.ContentRecord, error) {
			return nil, nil
		},
	}
	svc := newTestProvisionService(t, repo, nil)

	_, err := svc.Provision(context.Background(), testContentID, testTenantID)
	assertKind(t, err, KindNotFound, "content not found")
}

func TestProvision_StoreFailure(t *testing.T) {
	repo := &mockContentRepo{
		findFn: func(context.Context, string, string) (*model.ContentRecord, error) {
			return nil, errors.New("connection refused: 10.0.0.5:5432")
		},
	}
	svc := newTestProvisionService(t, repo, nil)

	_, err := svc.Provision(context.Background(), testContentID, testTenantID)
	assertKind(t, err, KindNotFound, "error occurred while fetching content")
	if strings.Contains(err.Error(), "10.0.0.5") {
		t.Errorf("внутренняя причина попала в ошибку: %q", err.Error())
	}
}

func TestProvision_CrossTenant(t *testing.T) {
	rec := newRecord("pdf", "/static/dummy.pdf")
	svc := newTestProvisionService(t, recordRepo(rec), nil)

	_, err := svc.Provision(context.Background(), testContentID, "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, ожидался ErrNotFound", err)
	}
}

func TestProvision_PDFFromLocalFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/static/dummy.pdf", 150000)

	rec := newRecord("pdf", "/static/dummy.pdf")
	svc := newTestProvisionService(t, recordRepo(rec), fs)

	out, err := svc.Provision(context.Background(), testContentID, testTenantID)
	if err != nil {
		t.Fatalf("Provision() ошибка: %v", err)
	}
	if out.Bytes != 150000 {
		t.Errorf("bytes = %d, ожидалось 150000", out.Bytes)
	}
	if out.Metadata["pages"] != int64(3) {
		t.Errorf("pages = %v, ожидалось 3", out.Metadata["pages"])
	}
	// Локальный путь не является http(s) URL — подписи нет
	if out.URL != "" {
		t.Errorf("url = %q, ожидалась пустая строка", out.URL)
	}
	if out.ID != testContentID || out.Title != "Test pdf" {
		t.Errorf("поля записи не перенесены: %+v", out)
	}
}

func TestProvision_ByteProbeFailures(t *testing.T) {
	tests := []struct {
		name string
		url  string
		fs   func(t *testing.T) afero.Fs
	}{
		{
			name: "обход корня",
			url:  "/static/../../etc/passwd",
			fs: func(t *testing.T) afero.Fs {
				fs := afero.NewMemMapFs()
				writeFile(t, fs, "/etc/passwd", 4096)
				return fs
			},
		},
		{
			name: "соседний каталог с общим префиксом",
			url:  "/staticfiles/video.mp4",
			fs: func(t *testing.T) afero.Fs {
				fs := afero.NewMemMapFs()
				writeFile(t, fs, "/staticfiles/video.mp4", 4096)
				return fs
			},
		},
		{
			name: "файл отсутствует",
			url:  "/static/missing.mp4",
			fs:   func(*testing.T) afero.Fs { return afero.NewMemMapFs() },
		},
		{
			name: "ошибка stat",
			url:  "/static/video.mp4",
			fs:   func(*testing.T) afero.Fs { return statErrorFs{Fs: afero.NewMemMapFs()} },
		},
		{
			name: "относительный путь",
			url:  "static/video.mp4",
			fs: func(t *testing.T) afero.Fs {
				fs := afero.NewMemMapFs()
				writeFile(t, fs, "static/video.mp4", 4096)
				return fs
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecord("video", tt.url)
			svc := newTestProvisionService(t, recordRepo(rec), tt.fs(t))

			out, err := svc.Provision(context.Background(), testContentID, testTenantID)
			if err != nil {
				t.Fatalf("Provision() ошибка: %v (сбой размера не должен прерывать pipeline)", err)
			}
			if out.Bytes != 0 {
				t.Errorf("bytes = %d, ожидалось 0", out.Bytes)
			}
			if out.Metadata["duration"] != int64(10) {
				t.Errorf("duration = %v, ожидалось 10", out.Metadata["duration"])
			}
		})
	}
}

func TestProvision_RemoteURLNotProbed(t *testing.T) {
	fs := afero.NewMemMapFs()
	// Файл с тем же «путём» не должен учитываться для http URL
	writeFile(t, fs, "/static/image.png", 1000)

	rec := newRecord("image", "http://localhost:3000/static/image.png")
	svc := newTestProvisionService(t, recordRepo(rec), fs)

	out, err := svc.Provision(context.Background(), testContentID, testTenantID)
	if err != nil {
		t.Fatalf("Provision() ошибка: %v", err)
	}
	if out.Bytes != 0 {
		t.Errorf("bytes = %d, ожидалось 0", out.Bytes)
	}
	if !strings.HasPrefix(out.URL, rec.URL+"?expires=") || !strings.Contains(out.URL, "&signature=") {
		t.Errorf("url = %q, ожидалась подписанная ссылка", out.URL)
	}
	if out.Format == nil || *out.Format != "png" {
		t.Errorf("format = %v, ожидался png", out.Format)
	}
}

func TestProvision_UnsignableURL(t *testing.T) {
	rec := newRecord("pdf", "ftp://example.com/file.pdf")
	svc := newTestProvisionService(t, recordRepo(rec), nil)

	out, err := svc.Provision(context.Background(), testContentID, testTenantID)
	if err != nil {
		t.Fatalf("Provision() ошибка: %v", err)
	}
	if out.URL != "" {
		t.Errorf("url = %q, ожидалась пустая строка", out.URL)
	}
	if out.Metadata["pages"] != int64(1) {
		t.Errorf("pages = %v, ожидалось 1", out.Metadata["pages"])
	}
}

func TestProvision_MissingType(t *testing.T) {
	rec := newRecord("", "https://example.com/x")
	svc := newTestProvisionService(t, recordRepo(rec), nil)

	_, err := svc.Provision(context.Background(), testContentID, testTenantID)
	assertKind(t, err, KindInvalidInput, "content type is missing")
	var pe *ProvisionError
	if errors.As(err, &pe) && pe.MissingIdentifier() {
		t.Error("отсутствие вида не должно считаться отсутствием идентификатора")
	}
}

func TestProvision_UnsupportedType(t *testing.T) {
	rec := newRecord("invalid_type", "https://example.com/x")
	svc := newTestProvisionService(t, recordRepo(rec), nil)

	_, err := svc.Provision(context.Background(), testContentID, testTenantID)
	assertKind(t, err, KindUnsupportedType, "unsupported content type: invalid_type")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Error("errors.Is(err, ErrUnsupportedType) = false")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("unsupported type должен быть частным случаем ErrInvalidInput")
	}
}

func TestProvision_Text(t *testing.T) {
	tests := []struct {
		name string
		body *model.TextContent
		want *string
	}{
		{name: "с телом", body: &model.TextContent{ID: "t1", ContentID: testContentID, Text: strp("hello")}, want: strp("hello")},
		{name: "тело без текста", body: &model.TextContent{ID: "t1", ContentID: testContentID}, want: nil},
		{name: "без тела", body: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecord("text", "https://example.com/sample-content")
			rec.TextContent = tt.body
			svc := newTestProvisionService(t, recordRepo(rec), nil)

			out, err := svc.Provision(context.Background(), testContentID, testTenantID)
			if err != nil {
				t.Fatalf("Provision() ошибка: %v", err)
			}
			if out.Text == nil {
				t.Fatal("для text ожидалось поле text_content")
			}
			switch {
			case tt.want == nil && out.Text.Value != nil:
				t.Errorf("text_content = %q, ожидался null", *out.Text.Value)
			case tt.want != nil && (out.Text.Value == nil || *out.Text.Value != *tt.want):
				t.Errorf("text_content = %v, ожидался %q", out.Text.Value, *tt.want)
			}
			if out.Format == nil || *out.Format != "text/plain" {
				t.Errorf("format = %v, ожидался text/plain", out.Format)
			}
		})
	}
}

func TestProvision_LinkIgnoresSignedURL(t *testing.T) {
	rec := newRecord("link", "https://example.com/article")
	svc := newTestProvisionService(t, recordRepo(rec), nil)

	out, err := svc.Provision(context.Background(), testContentID, testTenantID)
	if err != nil {
		t.Fatalf("Provision() ошибка: %v", err)
	}
	if out.URL != "https://example.com/article" {
		t.Errorf("url = %q, ожидался исходный URL записи", out.URL)
	}
	if out.Bytes != 0 {
		t.Errorf("bytes = %d, ожидалось 0", out.Bytes)
	}
	if out.Metadata["trusted"] != true {
		t.Errorf("trusted = %v, ожидалось true", out.Metadata["trusted"])
	}
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"/static/a.pdf", true},
		{"static/a.pdf", true},
		{"", false},
		{"http://example.com/a.pdf", false},
		{"https://example.com/a.pdf", false},
		{"ftp://example.com/a.pdf", false},
		{"file:///static/a.pdf", false},
	}
	for _, tt := range tests {
		if got := isLocalPath(tt.raw); got != tt.want {
			t.Errorf("isLocalPath(%q) = %v, ожидалось %v", tt.raw, got, tt.want)
		}
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{invalidInput(FieldContentID, msgContentIDRequired), "invalid_input"},
		{notFound(msgContentNotFound), "not_found"},
		{unsupportedType("x"), "unsupported_type"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := resultLabel(tt.err); got != tt.want {
			t.Errorf("resultLabel(%v) = %q, ожидалось %q", tt.err, got, tt.want)
		}
	}
}

func strp(s string) *string { return &s }
