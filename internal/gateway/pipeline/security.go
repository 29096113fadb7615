package pipeline

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Severity classifies a detected attack pattern.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SecurityConfig tunes the attack scanner.
type SecurityConfig struct {
	MaxAttacksPerWindow int
	Window              time.Duration
}

func (c SecurityConfig) withDefaults() SecurityConfig {
	if c.MaxAttacksPerWindow == 0 {
		c.MaxAttacksPerWindow = 10
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
	return c
}

type attackPattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
}

var attackPatterns = []attackPattern{
	{"xss", regexp.MustCompile(`(?i)<script|onerror=|onload=|javascript:`), SeverityHigh},
	{"sqli", regexp.MustCompile(`(?i)(\bunion\b.*\bselect\b|\bor\b\s+1=1|;\s*drop\s+table|--\s*$)`), SeverityCritical},
	{"path_traversal", regexp.MustCompile(`\.\./|\.\.\\`), SeverityHigh},
	{"command_injection", regexp.MustCompile(`(?:;|\||&&)\s*(rm|cat|wget|curl|nc|bash|sh)\b`), SeverityCritical},
}

// SecurityScanner pre-scans the path, query params, and header values for
// known attack patterns; the request body is not scanned. Findings are
// always logged by the caller; ShouldBlock reports whether the request
// should be blocked.
type SecurityScanner struct {
	cfg SecurityConfig

	mu        sync.Mutex
	attackLog map[string][]time.Time // source IP -> attack timestamps
}

func NewSecurityScanner(cfg SecurityConfig) *SecurityScanner {
	return &SecurityScanner{cfg: cfg.withDefaults(), attackLog: map[string][]time.Time{}}
}

// Finding describes one matched pattern.
type Finding struct {
	Pattern  string
	Severity Severity
	Location string
	Value    string
}

func scanValue(location, v string) []Finding {
	var out []Finding
	for _, p := range attackPatterns {
		if p.re.MatchString(v) {
			out = append(out, Finding{Pattern: p.name, Severity: p.severity, Location: location, Value: v})
		}
	}
	return out
}

// Scan inspects the request and returns every finding.
func (s *SecurityScanner) Scan(r *http.Request) []Finding {
	var findings []Finding

	findings = append(findings, scanValue("path", r.URL.Path)...)
	for k, vals := range r.URL.Query() {
		for _, v := range vals {
			findings = append(findings, scanValue("query:"+k, v)...)
		}
	}
	for k, vals := range r.Header {
		for _, v := range vals {
			findings = append(findings, scanValue("header:"+k, v)...)
		}
	}

	return findings
}

// ShouldBlock reports whether the request should be rejected given its
// findings and the source IP's recent attack history.
func (s *SecurityScanner) ShouldBlock(sourceIP string, findings []Finding) bool {
	if len(findings) == 0 {
		return false
	}

	severe := false
	for _, f := range findings {
		if f.Severity == SeverityHigh || f.Severity == SeverityCritical {
			severe = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-s.cfg.Window)

	kept := s.attackLog[sourceIP][:0]
	for _, ts := range s.attackLog[sourceIP] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.attackLog[sourceIP] = kept

	return severe || len(kept) > s.cfg.MaxAttacksPerWindow
}

// CORSConfig configures preflight and actual-request CORS handling for the
// full gateway pipeline (distinct from the simple admin-surface CORS
// middleware).
type CORSConfig struct {
	AllowedOrigins   []string // "*" allowed
	AllowedMethods   []string
	AllowedHeaders   []string
	MaxAge           time.Duration
	AllowCredentials bool
}

func (c CORSConfig) originAllowed(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func intersect(requested []string, allowed []string) []string {
	allowedSet := map[string]bool{}
	for _, a := range allowed {
		allowedSet[strings.ToLower(a)] = true
	}
	var out []string
	for _, r := range requested {
		if allowedSet[strings.ToLower(strings.TrimSpace(r))] {
			out = append(out, strings.TrimSpace(r))
		}
	}
	return out
}

// HandlePreflight writes the full CORS preflight response when r is an
// OPTIONS request with an Origin header, and reports whether it did.
func (c CORSConfig) HandlePreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" || !c.originAllowed(origin) {
		return false
	}

	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Origin", origin)
	if c.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	requestedMethod := r.Header.Get("Access-Control-Request-Method")
	if requestedMethod != "" {
		methods := intersect([]string{requestedMethod}, c.AllowedMethods)
		if len(methods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
		}
	} else {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(c.AllowedMethods, ", "))
	}

	requestedHeaders := r.Header.Get("Access-Control-Request-Headers")
	if requestedHeaders != "" {
		headers := intersect(strings.Split(requestedHeaders, ","), c.AllowedHeaders)
		if len(headers) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
		}
	}

	if c.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", durationSeconds(c.MaxAge))
	}

	w.WriteHeader(http.StatusOK)
	return true
}

// ApplyActual attaches origin headers to an actual (non-preflight) request's
// eventual response.
func (c CORSConfig) ApplyActual(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !c.originAllowed(origin) {
		return
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Origin", origin)
	if c.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

func durationSeconds(d time.Duration) string {
	secs := int64(d.Seconds())
	return itoa64(secs)
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	pos := len(buf)
	for v > 0 {
		pos--
		buf[pos] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
