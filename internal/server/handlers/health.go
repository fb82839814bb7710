package handlers

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

var healthStart atomic.Int64

func init() {
	healthStart.Store(time.Now().UnixNano())
}

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(time.Unix(0, healthStart.Load())).Round(time.Second)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthStatus{
		Status: "ok",
		Uptime: uptime.String(),
	})
}
