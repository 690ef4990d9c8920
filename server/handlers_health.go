package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.deps.DB.PingContext(r.Context()) }},
		{"google_credentials", func() error {
			var count int
			err := h.deps.DB.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider='google'").Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("missing Google OAuth token; visit /auth/google/start")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus summarizes race records by status plus the sweep heartbeat.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	counts := map[string]int{}
	rows, err := h.deps.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM race_records GROUP BY status`)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			http.Error(w, "scan failed", http.StatusInternalServerError)
			return
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	var heartbeat string
	_ = h.deps.DB.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key='result_sweep_heartbeat'`).Scan(&heartbeat)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"races":           counts,
		"sweep_heartbeat": heartbeat,
	})
}
