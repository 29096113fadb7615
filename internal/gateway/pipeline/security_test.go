package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSecurityScannerDetectsSQLInjection(t *testing.T) {
	s := NewSecurityScanner(SecurityConfig{})
	req := httptest.NewRequest(http.MethodGet, "/search?q=1%20OR%201=1", nil)

	findings := s.Scan(req)
	if len(findings) == 0 {
		t.Fatal("expected a finding for a SQL injection pattern in the query string")
	}
}

func TestSecurityScannerBlocksOnHighSeverity(t *testing.T) {
	s := NewSecurityScanner(SecurityConfig{})
	req := httptest.NewRequest(http.MethodGet, "/x?q=<script>alert(1)</script>", nil)

	findings := s.Scan(req)
	if !s.ShouldBlock("1.2.3.4", findings) {
		t.Error("expected a HIGH severity finding to be blocked")
	}
}

func TestSecurityScannerBlocksAfterThresholdEvenForLowSeverity(t *testing.T) {
	s := NewSecurityScanner(SecurityConfig{MaxAttacksPerWindow: 2, Window: time.Minute})

	benign := []Finding{{Pattern: "xss", Severity: SeverityLow}}
	s.ShouldBlock("9.9.9.9", benign)
	s.ShouldBlock("9.9.9.9", benign)
	if !s.ShouldBlock("9.9.9.9", benign) {
		t.Error("expected the third low-severity finding within the window to trip the threshold")
	}
}

func TestCORSPreflightIntersectsRequestedMethods(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"https://a.com"}, AllowedMethods: []string{"GET", "POST"}}
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://a.com")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rec := httptest.NewRecorder()

	if !cfg.HandlePreflight(rec, req) {
		t.Fatal("expected preflight to be handled")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != "" {
		t.Errorf("expected DELETE to be excluded from the allowed set, got %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORSPreflightRejectsDisallowedOrigin(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"https://a.com"}, AllowedMethods: []string{"GET"}}
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://evil.com")
	rec := httptest.NewRecorder()

	if cfg.HandlePreflight(rec, req) {
		t.Error("expected a disallowed origin to not be handled as a successful preflight")
	}
}
