package pulse

import "time"

// CheckResult is the outcome of a single reachability check run by a
// Checker, keyed to whichever device/check configuration requested it.
type CheckResult struct {
	CheckID      string    `json:"check_id,omitempty"`
	DeviceID     string    `json:"device_id,omitempty"`
	Success      bool      `json:"success"`
	LatencyMs    float64   `json:"latency_ms,omitempty"`
	PacketLoss   float64   `json:"packet_loss"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}
