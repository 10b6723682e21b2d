package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/UjanGuin/ZYLO-LINK/internal/config"
	"github.com/UjanGuin/ZYLO-LINK/internal/ws"

	"github.com/gin-gonic/gin"
)

type fakeObject struct {
	data        []byte
	contentType string
}

// fakeBlob 用内存映射替代对象存储。
type fakeBlob struct {
	objects map[string]fakeObject
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string]fakeObject)}
}

func (f *fakeBlob) Put(_ context.Context, logicalName, contentType string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	key := "k-" + logicalName
	f.objects[key] = fakeObject{data: data, contentType: contentType}
	return key, nil
}

func (f *fakeBlob) Get(_ context.Context, object string) (io.ReadCloser, string, error) {
	obj, ok := f.objects[object]
	if !ok {
		return nil, "", io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func testConfig() config.Config {
	return config.Config{
		Port:                  "0",
		JWTSecret:             "test-secret",
		Env:                   "dev",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
		AssistantFreeLimit:    5,
	}
}

// 未命中数据库的路由可以用空依赖装配；认证中间件在查库前就拒绝匿名请求。
func testEngine(t *testing.T, blobs *fakeBlob) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	h := NewHandler(cfg, nil, nil, blobs)
	wsRouter := ws.NewRouter(ws.NewHub(), nil, cfg)
	return SetupRouter(cfg, nil, h, wsRouter)
}

func TestHealthz(t *testing.T) {
	engine := testEngine(t, newFakeBlob())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	engine := testEngine(t, newFakeBlob())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	engine := testEngine(t, newFakeBlob())

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthenticate_InvalidPayload(t *testing.T) {
	engine := testEngine(t, newFakeBlob())

	cases := []string{
		`not json`,
		`{"name":"","pass":"x"}`,
		`{"name":"alice","pass":""}`,
		`{"name":"` + strings.Repeat("a", 65) + `","pass":"x"}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	engine := testEngine(t, newFakeBlob())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	blobs := newFakeBlob()
	h := NewHandler(testConfig(), nil, nil, blobs)
	engine := gin.New()
	engine.POST("/upload", h.Upload)

	body, contentType := multipartBody(t, "note.txt", []byte("hello upload"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.URL, "/uploads/") {
		t.Errorf("url = %q, want /uploads/ prefix", resp.URL)
	}
	if !strings.HasPrefix(resp.Type, "text/plain") {
		t.Errorf("type = %q, want sniffed text/plain", resp.Type)
	}
	key := strings.TrimPrefix(resp.URL, "/uploads/")
	if _, ok := blobs.objects[key]; !ok {
		t.Error("uploaded object missing from the store")
	}
}

func TestUpload_NoFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(testConfig(), nil, nil, newFakeBlob())
	engine := gin.New()
	engine.POST("/upload", h.Upload)

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadAvatar_RejectsNonImage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(testConfig(), nil, nil, newFakeBlob())
	engine := gin.New()
	engine.Use(func(c *gin.Context) { c.Set("userID", "ALICE00001") })
	engine.POST("/upload_avatar", h.UploadAvatar)

	body, contentType := multipartBody(t, "avatar.txt", []byte("just text"))
	req := httptest.NewRequest(http.MethodPost, "/upload_avatar", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestServeUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	blobs := newFakeBlob()
	blobs.objects["k-pic.png"] = fakeObject{data: []byte("png-bytes"), contentType: "image/png"}
	h := NewHandler(testConfig(), nil, nil, blobs)
	engine := gin.New()
	engine.GET("/uploads/:name", h.ServeUpload)

	req := httptest.NewRequest(http.MethodGet, "/uploads/k-pic.png", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q, want image/png", got)
	}
	if w.Body.String() != "png-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/uploads/missing", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing object, got %d", w.Code)
	}
}
