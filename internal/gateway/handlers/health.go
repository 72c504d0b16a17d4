package handlers

import (
	"net/http"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime initializes the server start time.
// Should be called when the server starts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   int64  `json:"uptime"`
	Profiles int    `json:"profiles"`
	Targets  int    `json:"targets"`
}

// HealthHandler reports liveness plus how many profiles and priority
// targets the current configuration document holds. A document that cannot
// be read degrades the status instead of failing the check.
func HealthHandler(version string, cfg ConfigSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(0)
		if !startTime.IsZero() {
			uptime = int64(time.Since(startTime).Seconds())
		}

		resp := HealthResponse{Status: "ok", Version: version, Uptime: uptime}
		if cfg != nil {
			doc, err := cfg.ReadConfig()
			if err != nil {
				resp.Status = "degraded"
			} else {
				resp.Profiles = len(doc.Profiles)
				resp.Targets = len(doc.Routing.ModelPriority)
			}
		}
		SendJSON(w, http.StatusOK, resp)
	}
}
