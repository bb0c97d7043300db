package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health answers 200 when every check passes and 503 otherwise. Failure
// reasons are reduced to "down" so driver messages stay internal.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	writeSuccess(w, status, map[string]any{"status": overall, "checks": results}, nil)
}
