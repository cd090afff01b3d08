package core

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/capture"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// HealthStatus represents the health state of the service.
type HealthStatus struct {
	Status             string            `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds      int64             `json:"uptime_seconds"`
	SessionRunning     bool              `json:"session_running"`
	StreamConnected    bool              `json:"stream_connected"`
	MQTTConnected      bool              `json:"mqtt_connected"`
	ClassifierDegraded bool              `json:"classifier_degraded"`
	Session            capture.Stats     `json:"session"`
	Stream             types.StreamStats `json:"stream"`
}

// HealthCheck returns the current health status of the service.
func (e *EmotiScan) HealthCheck() HealthStatus {
	e.mu.RLock()
	started := e.started
	running := e.isRunning
	e.mu.RUnlock()

	sess := e.controller.Snapshot()
	src := e.source.Stats()
	emit := e.emitter.Stats()

	status := HealthStatus{
		Status:             "healthy",
		UptimeSeconds:      int64(time.Since(started).Seconds()),
		SessionRunning:     sess.Running,
		StreamConnected:    src.Connected,
		MQTTConnected:      emit.Connected,
		ClassifierDegraded: sess.Degraded,
		Session:            sess,
		Stream:             src,
	}

	// MQTT only counts against health when it is part of the deployment.
	mqttOK := !e.cfg.MQTT.Enabled || emit.Connected

	if !running {
		status.Status = "unhealthy"
	} else if !src.Connected || !mqttOK || sess.Degraded {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check). Returns 200
// if the service process is alive.
func (e *EmotiScan) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness (detailed readiness check).
// Returns 200 only once the source has decoded its first frame and the
// service is not unhealthy; degraded still counts as ready.
func (e *EmotiScan) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := e.HealthCheck()

	ready := health.Status != "unhealthy"
	select {
	case <-e.source.Ready():
	default:
		// No frame decoded yet.
		ready = false
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}
