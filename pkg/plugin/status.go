package plugin

// HealthStatus reports whether a plugin is able to serve traffic.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Subscription declares a topic and handler a plugin wants registered on the
// EventBus at Init time.
type Subscription struct {
	Topic   string
	Handler EventHandler
}
