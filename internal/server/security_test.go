package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeadersDefaults(t *testing.T) {
	handler := securityHeadersMiddleware(SecurityConfig{}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/tours", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	headers := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
		"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
	}
	for name, want := range headers {
		if got := res.Header().Get(name); got != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}

	csp := res.Header().Get("Content-Security-Policy")
	for _, directive := range []string{"default-src 'self'", "img-src 'self' data:", "frame-ancestors 'none'", "object-src 'none'"} {
		if !strings.Contains(csp, directive) {
			t.Fatalf("CSP missing %q: %s", directive, csp)
		}
	}
}

func TestSecurityHeadersIncludeImageOrigins(t *testing.T) {
	cfg := SecurityConfig{ImageOrigins: []string{"https://cdn.example.com", " https://media.example.com "}}
	handler := securityHeadersMiddleware(cfg, okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	csp := res.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "img-src 'self' data: https://cdn.example.com https://media.example.com;") {
		t.Fatalf("CSP img-src missing image origins: %s", csp)
	}
}

func TestSecurityHeadersExplicitPolicyWins(t *testing.T) {
	cfg := SecurityConfig{
		ContentSecurityPolicy: "default-src 'none'",
		FrameOptions:          "SAMEORIGIN",
		ImageOrigins:          []string{"https://cdn.example.com"},
	}
	handler := securityHeadersMiddleware(cfg, okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := res.Header().Get("Content-Security-Policy"); got != "default-src 'none'" {
		t.Fatalf("CSP = %q, explicit value should not be rewritten", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
}

func TestSecurityHeadersCustomFrameAncestors(t *testing.T) {
	cfg := SecurityConfig{FrameAncestors: "'self' https://embed.example.com"}
	handler := securityHeadersMiddleware(cfg, okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	csp := res.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-ancestors 'self' https://embed.example.com") {
		t.Fatalf("CSP missing custom frame-ancestors: %s", csp)
	}
}
