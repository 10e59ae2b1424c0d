package health

import (
	"encoding/json"
	"net/http"
)

// LivenessHandler answers 200 whenever the process serves requests.
func (m *Manager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ReadinessHandler runs all checks; 503 when any critical dependency is
// down. The body carries per-component detail either way.
func (m *Manager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !overall.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(overall)
	}
}
