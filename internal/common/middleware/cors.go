package middleware

import "net/http"

// CORS is a permissive CORS middleware used by the admin/control surface
// (metrics, health, operator inspection endpoints). The data-plane gateway
// pipeline has its own configurable CORS policy engine (see
// internal/gateway/pipeline), which supports per-route allow-lists,
// credentialed requests, and Vary: Origin — this one is intentionally
// simple since the admin surface has no configurable tenants.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
