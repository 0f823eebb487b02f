package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tourgraph/internal/api"
	"tourgraph/internal/blobstore"
	"tourgraph/internal/observability/metrics"
	"tourgraph/internal/storage"
	"tourgraph/internal/tour"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "tours.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	service, err := tour.NewService(tour.Config{
		Store:   store,
		Blobs:   blobstore.NewMemory(),
		Logger:  discardLogger(),
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(api.NewHandler(service, store), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestServerServesHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	res := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", res.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("health status = %q", health["status"])
	}

	res = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metricsz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("metricsz status = %d, want 200", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("metricsz Content-Type = %q", got)
	}
}

func TestServerAppliesSecurityAndRequestIDHeaders(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	res := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/tours", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
	if res.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	if res.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("missing Content-Security-Policy header")
	}
	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
}

func TestServerRecordsRequestMetrics(t *testing.T) {
	recorder := metrics.New()
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0", Metrics: recorder})

	srv.httpServer.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tours", nil))

	out := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metricsz", nil))
	want := `tourgraph_http_requests_total{method="GET",path="/api/tours",status="200"} 1` + "\n"
	if !strings.Contains(out.Body.String(), want) {
		t.Fatalf("missing %q in metrics output:\n%s", want, out.Body.String())
	}
}

func TestServerRejectsInvalidCORSOrigin(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "tours.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	defer store.Close(context.Background())
	service, err := tour.NewService(tour.Config{Store: store, Logger: discardLogger(), Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = New(api.NewHandler(service, store), Config{
		Addr:   "127.0.0.1:0",
		Logger: discardLogger(),
		CORS:   CORSConfig{EditorOrigins: []string{"no-scheme"}},
	})
	if err == nil {
		t.Fatal("expected error for origin without scheme")
	}
}

func TestServerUploadRateLimitEndToEnd(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr:      "127.0.0.1:0",
		RateLimit: RateLimitConfig{UploadLimit: 1, UploadWindow: time.Hour},
	})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tours", nil)
		req.RemoteAddr = "203.0.113.5:40000"
		res := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(res, req)
		return res
	}

	// The first attempt consumes the budget even though the request itself is
	// rejected for lacking multipart content.
	if res := post(); res.Code == http.StatusTooManyRequests {
		t.Fatalf("first upload throttled: %d", res.Code)
	}
	if res := post(); res.Code != http.StatusTooManyRequests {
		t.Fatalf("second upload status = %d, want 429", res.Code)
	}
}

func TestServerConfiguresTLSWhenCertProvided(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr: "127.0.0.1:0",
		TLS:  TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"},
	})
	if srv.httpServer.TLSConfig == nil {
		t.Fatal("expected TLSConfig when cert and key are set")
	}
	if srv.httpServer.TLSConfig.MinVersion != 0x0303 {
		t.Fatalf("MinVersion = %x, want TLS 1.2", srv.httpServer.TLSConfig.MinVersion)
	}
}
