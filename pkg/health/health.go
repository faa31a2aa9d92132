// Package health tracks gateway readiness and serves the health check
// endpoints.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/session"
)

// Readiness states. The gateway starts in Starting, becomes Ready once
// it accepts streams, and Draining during graceful shutdown.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker tracks the readiness state of the gateway. Safe for concurrent
// use.
type Checker struct {
	state    atomic.Int32
	registry *session.Registry
}

// NewChecker creates a Checker in the Starting state. The registry may be
// nil; session counts are then omitted from responses.
func NewChecker(registry *session.Registry) *Checker {
	return &Checker{registry: registry}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state. New streams are refused
// while existing sessions finish.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// healthResponse is the JSON body returned by the health endpoints.
type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions *int64 `json:"active_sessions,omitempty"`
	TotalSessions  *int64 `json:"total_sessions,omitempty"`
}

func (c *Checker) response(status string) healthResponse {
	resp := healthResponse{Status: status}
	if c.registry != nil {
		m := c.registry.Metrics()
		resp.ActiveSessions = &m.Active
		resp.TotalSessions = &m.Created
	}
	return resp
}

// LivenessHandler always responds 200 OK; the process is up.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 when ready and 503 while starting or
// draining, with the current session counts.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		if !c.IsReady() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, c.response(c.State()))
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
