// Package pulse is the diagnostics plugin: it mounts the trace/ping/discover
// operations of internal/facade onto the shared HTTP server. It also holds
// a reachability Checker, which nothing in the plugin runs on a schedule.
package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/internal/classify"
	"github.com/draymonix/pathlens/internal/facade"
	"github.com/draymonix/pathlens/internal/multipath"
	"github.com/draymonix/pathlens/internal/ping"
	"github.com/draymonix/pathlens/internal/traceroute"
	"github.com/draymonix/pathlens/pkg/plugin"
)

// Plugin implements the diagnostics module: traceroute, ping, multipath
// discovery, and ASN classification, exposed over HTTP.
type Plugin struct {
	logger  *zap.Logger
	config  *viper.Viper
	facade  *facade.Facade
	checker Checker
}

// New creates a diagnostics plugin backed by f. The facade is constructed
// separately (it needs the ASN resolver, rDNS cache, and public-IP
// discovery wired up) and handed in so Init only deals with HTTP-layer
// configuration.
func New(f *facade.Facade) *Plugin {
	return &Plugin{facade: f, checker: NewICMPChecker(defaultCheckTimeout, defaultCheckCount)}
}

func (p *Plugin) Name() string    { return "diagnostics" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Init(config *viper.Viper, logger *zap.Logger) error {
	p.config = config
	p.logger = logger
	p.logger.Info("diagnostics module initialized")
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.logger.Info("diagnostics module started")
	return nil
}

func (p *Plugin) Stop() error {
	p.logger.Info("diagnostics module stopped")
	return nil
}

// ValidateConfig reports whether the plugin was wired with a facade to
// delegate to. A nil facade means New was called wrong (a programmer error,
// not a config error), but it's still cheaper to catch it here than on the
// first request.
func (p *Plugin) ValidateConfig() error {
	if p.facade == nil {
		return fmt.Errorf("diagnostics: no facade configured")
	}
	return nil
}

// Health reports the diagnostics module healthy whenever it has a facade to
// delegate to, whether or not Init has run.
func (p *Plugin) Health(_ context.Context) plugin.HealthStatus {
	if p.facade == nil {
		return plugin.HealthStatus{Healthy: false, Detail: "facade not configured"}
	}
	return plugin.HealthStatus{Healthy: true}
}

func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/trace", Handler: p.handleTrace},
		{Method: "GET", Path: "/trace/classified", Handler: p.handleTraceClassified},
		{Method: "GET", Path: "/ping", Handler: p.handlePing},
		{Method: "GET", Path: "/discover", Handler: p.handleDiscover},
		{Method: "GET", Path: "/public-ip", Handler: p.handlePublicIP},
		{Method: "POST", Path: "/cancel", Handler: p.handleCancel},
	}
}

func (p *Plugin) handleTrace(w http.ResponseWriter, r *http.Request) {
	dest, ok := parseDest(w, r)
	if !ok {
		return
	}
	_, result, err := p.facade.Trace(r.Context(), dest, traceroute.Options{})
	writeJSON(w, result, err)
}

func (p *Plugin) handleTraceClassified(w http.ResponseWriter, r *http.Request) {
	dest, ok := parseDest(w, r)
	if !ok {
		return
	}
	vpn := classify.VPNContext{
		IsVPNTrace:  r.URL.Query().Get("vpn") == "true",
		VPNLocalIPs: r.URL.Query()["vpn_local_ip"],
	}
	_, result, err := p.facade.TraceClassified(r.Context(), dest, traceroute.Options{}, vpn)
	writeJSON(w, result, err)
}

func (p *Plugin) handlePing(w http.ResponseWriter, r *http.Request) {
	dest, ok := parseDest(w, r)
	if !ok {
		return
	}
	_, result, err := p.facade.Ping(r.Context(), dest, ping.Options{})
	writeJSON(w, result, err)
}

func (p *Plugin) handleDiscover(w http.ResponseWriter, r *http.Request) {
	dest, ok := parseDest(w, r)
	if !ok {
		return
	}
	_, result, err := p.facade.DiscoverPaths(r.Context(), dest, multipath.Options{})
	writeJSON(w, result, err)
}

func (p *Plugin) handlePublicIP(w http.ResponseWriter, r *http.Request) {
	result, err := p.facade.PublicIP(r.Context())
	writeJSON(w, result, err)
}

func (p *Plugin) handleCancel(w http.ResponseWriter, r *http.Request) {
	h := r.URL.Query().Get("handle")
	ok := p.facade.Cancel(facade.Handle(h))
	writeJSON(w, map[string]bool{"cancelled": ok}, nil)
}

func parseDest(w http.ResponseWriter, r *http.Request) (net.IP, bool) {
	host := r.URL.Query().Get("target")
	ip := net.ParseIP(host).To4()
	if ip == nil {
		http.Error(w, "target must be an ipv4 address", http.StatusBadRequest)
		return nil, false
	}
	return ip, true
}

func writeJSON(w http.ResponseWriter, v any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(v)
}
