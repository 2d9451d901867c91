package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

const (
	serviceName    = "live-translator"
	serviceVersion = "1.0.0"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether one dependency is usable
type HealthCheckFunc func(ctx context.Context) (bool, error)

// HealthCheckHandler handles health check requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   serviceVersion,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// ReadinessHandler runs every named check and reports 503 if any fails
func ReadinessHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		dependencies := make(map[string]DependencyStatus, len(names))
		allHealthy := true
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for _, name := range names {
			check := checks[name]
			if check == nil {
				continue
			}

			start := time.Now()
			healthy, err := check(ctx)
			latency := time.Since(start).Milliseconds()

			dep := DependencyStatus{Status: "healthy", LatencyMs: latency}
			if err != nil || !healthy {
				dep.Status = "unhealthy"
				allHealthy = false
				if err != nil {
					dep.Message = err.Error()
				}
			}
			dependencies[name] = dep
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      serviceVersion,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			status.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(status)
	}
}
