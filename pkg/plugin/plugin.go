// Package plugin defines the seam between pathlens's diagnostics engine and
// its external callers (HTTP API, MCP tools). It is intentionally small:
// a single Plugin mounts the engine's routes onto the shared server, and an
// EventBus lets the engine announce network_changed events to interested
// listeners (e.g. an MQTT bridge) without depending on
// them directly.
package plugin

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Plugin defines the interface a pathlens module must implement to be
// mounted by the server and driven through its lifecycle.
type Plugin interface {
	// Name returns the plugin's unique identifier (e.g. "diagnostics").
	Name() string

	// Version returns the plugin's semantic version.
	Version() string

	// Init initializes the plugin with configuration and logger.
	Init(config *viper.Viper, logger *zap.Logger) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop() error

	// Routes returns the HTTP routes this plugin exposes.
	Routes() []Route
}

// Event is a single notification published on the EventBus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler processes a published Event.
type EventHandler func(ctx context.Context, e Event)

// EventBus lets plugins publish and subscribe to Events without importing
// each other directly.
type EventBus interface {
	// Publish delivers the event to matching subscribers synchronously,
	// returning once every handler has run.
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers the event without blocking the caller.
	PublishAsync(ctx context.Context, event Event)

	// Subscribe registers a handler for a single topic. The returned func
	// unsubscribes it.
	Subscribe(topic string, handler EventHandler) func()

	// SubscribeAll registers a handler invoked for every published event
	// regardless of topic. The returned func unsubscribes it.
	SubscribeAll(handler EventHandler) func()
}
