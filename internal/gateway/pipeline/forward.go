package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowmesh/core/internal/common/metrics"
	"github.com/flowmesh/core/internal/gateway/lb"
	"github.com/flowmesh/core/internal/gateway/route"
)

// hopByHopHeaders must never be copied to the upstream request or back to
// the client, per RFC 7230 §6.1.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Forwarder builds and dispatches the upstream request for a resolved route
// and server.
type Forwarder struct {
	Client            *http.Client
	PassthroughStatus bool // pass upstream status through as-is instead of mapping failures to 502

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Registry
}

func NewForwarder() *Forwarder {
	return &Forwarder{Client: &http.Client{}}
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func buildUpstreamURL(serverURL string, r *route.Route, originalPath, query string) string {
	path := originalPath
	if r.PathRewrite != "" {
		path = r.PathRewrite
	}
	u := strings.TrimRight(serverURL, "/") + "/" + strings.TrimLeft(path, "/")
	if query != "" {
		u += "?" + query
	}
	return u
}

// Forward proxies r to server per matchedRoute's timeout and rewrite rules.
// The server's connection counter is incremented before dispatch and
// guaranteed to decrement afterward regardless of outcome.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, matchedRoute *route.Route, server *lb.Server, pool *lb.Pool) {
	timeout := matchedRoute.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(r.Body)
		r.Body.Close()
	}

	upstreamURL := buildUpstreamURL(server.URL, matchedRoute, r.URL.Path, r.URL.RawQuery)

	req, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, bytes.NewReader(bodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to build upstream request"}`, http.StatusBadGateway)
		return
	}
	copyHeaders(req.Header, r.Header)

	server.IncActiveConns()
	start := time.Now()
	defer func() {
		server.DecActiveConns()
	}()

	resp, err := f.Client.Do(req)
	if err != nil {
		if pool != nil {
			pool.Report(server.ID, false)
		}
		http.Error(w, `{"error":"upstream request failed"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	server.RecordResponseTime(elapsed)
	if f.Metrics != nil {
		f.Metrics.UpstreamLatency.WithLabelValues(server.ID).Observe(elapsed.Seconds())
	}

	success := resp.StatusCode < 500
	if pool != nil {
		pool.Report(server.ID, success)
	}

	status := resp.StatusCode
	if !f.PassthroughStatus && status >= 500 {
		status = http.StatusBadGateway
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(status)
	io.Copy(w, resp.Body)
}
