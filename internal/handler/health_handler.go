package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker reports the backends that failed, keyed by name.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

type HealthHandler struct {
	checker  HealthChecker
	backends []string
}

// NewHealthHandler reports on backends; any failure not listed is still shown.
func NewHealthHandler(checker HealthChecker, backends ...string) *HealthHandler {
	return &HealthHandler{checker: checker, backends: backends}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "travel-auth"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failed := map[string]error{}
	if h.checker != nil {
		failed = h.checker.HealthCheck(ctx)
	}

	status := map[string]string{}
	for _, b := range h.backends {
		status[b] = "ok"
	}
	for name, err := range failed {
		status[name] = err.Error()
	}

	code, overall := http.StatusOK, "ready"
	if len(failed) > 0 {
		code, overall = http.StatusServiceUnavailable, "degraded"
	}
	respondWithJSON(w, code, Response{
		Success: len(failed) == 0,
		Message: overall,
		Data:    status,
	})
}
