// Package facade is the single entry point diagnostics callers (the HTTP
// API, the MCP tool surface, the CLI) go through to run a trace, a ping, or
// a multipath discovery. It resolves effective per-call configuration
// (operation overrides, then facade-level defaults, then each engine's own
// system defaults), tracks in-flight operations under cancellable handles,
// and announces public-IP changes on the shared event bus.
package facade

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/internal/asn"
	"github.com/draymonix/pathlens/internal/classify"
	"github.com/draymonix/pathlens/internal/diagerr"
	"github.com/draymonix/pathlens/internal/multipath"
	"github.com/draymonix/pathlens/internal/ping"
	"github.com/draymonix/pathlens/internal/publicip"
	"github.com/draymonix/pathlens/internal/rdns"
	"github.com/draymonix/pathlens/internal/traceroute"
	"github.com/draymonix/pathlens/pkg/models"
	"github.com/draymonix/pathlens/pkg/plugin"
)

// EventTopicNetworkChanged is published whenever a cached public-IP lookup
// resolves to a different address than it did last time.
const EventTopicNetworkChanged = "network_changed"

// Defaults holds the facade-level fallbacks applied to any operation that
// doesn't specify its own value, sitting between an explicit per-call
// option and the engine's own hardcoded system default.
type Defaults struct {
	Interface string
	SourceIP  net.IP
	VPN       classify.VPNContext
}

// Config bundles everything the facade needs to construct its engines.
type Config struct {
	Defaults    Defaults
	ASNResolver asn.Resolver
	RDNS        *rdns.Cache
	PublicIP    *publicip.Discovery
	Logger      *zap.Logger
	EventBus    plugin.EventBus
}

// Facade is the resolved, ready-to-call diagnostics surface.
type Facade struct {
	defaults   Defaults
	tracer     *traceroute.Engine
	pinger     *ping.Engine
	multi      *multipath.Engine
	classifier *classify.Classifier
	publicIP   *publicip.Discovery
	asnRes     asn.Resolver
	rdnsCache  *rdns.Cache
	bus        plugin.EventBus
	logger     *zap.Logger

	mu         sync.Mutex
	lastPublic net.IP

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

func New(cfg Config) *Facade {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := traceroute.New(nil, logger)
	classifier := classify.New(cfg.ASNResolver)
	return &Facade{
		defaults:   cfg.Defaults,
		tracer:     tracer,
		pinger:     ping.New(nil, logger),
		multi:      multipath.New(tracer, logger, classifier),
		classifier: classifier,
		publicIP:   cfg.PublicIP,
		asnRes:     cfg.ASNResolver,
		rdnsCache:  cfg.RDNS,
		bus:        cfg.EventBus,
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Tracer exposes the underlying traceroute engine for callers (the
// websocket streaming handler) that need incremental hops rather than the
// facade's all-at-once Trace/TraceClassified.
func (f *Facade) Tracer() *traceroute.Engine {
	return f.tracer
}

// Handle identifies a cancellable in-flight operation.
type Handle string

// begin registers a cancellable child context for one operation and returns
// its handle alongside the context callers should use.
func (f *Facade) begin(ctx context.Context) (context.Context, Handle, func()) {
	child, cancel := context.WithCancel(ctx)
	h := Handle(uuid.NewString())

	f.cancelMu.Lock()
	f.cancels[string(h)] = cancel
	f.cancelMu.Unlock()

	done := func() {
		f.cancelMu.Lock()
		delete(f.cancels, string(h))
		f.cancelMu.Unlock()
		cancel()
	}
	return child, h, done
}

// Cancel aborts the in-flight operation identified by h. It returns false if
// no such operation is outstanding (already finished, or unknown handle).
func (f *Facade) Cancel(h Handle) bool {
	f.cancelMu.Lock()
	defer f.cancelMu.Unlock()
	cancel, ok := f.cancels[string(h)]
	if !ok {
		return false
	}
	cancel()
	delete(f.cancels, string(h))
	return true
}

func (f *Facade) resolveTraceOptions(opts traceroute.Options) traceroute.Options {
	if opts.Interface == "" {
		opts.Interface = f.defaults.Interface
	}
	if opts.SourceIP == nil {
		opts.SourceIP = f.defaults.SourceIP
	}
	return opts.WithDefaults()
}

func (f *Facade) resolvePingOptions(opts ping.Options) ping.Options {
	if opts.Interface == "" {
		opts.Interface = f.defaults.Interface
	}
	if opts.SourceIP == nil {
		opts.SourceIP = f.defaults.SourceIP
	}
	return opts
}

// Trace runs a single traceroute and returns both the handle (for
// cancellation by a concurrent caller) and the result.
func (f *Facade) Trace(ctx context.Context, dest net.IP, opts traceroute.Options) (Handle, models.TraceResult, error) {
	child, h, done := f.begin(ctx)
	defer done()

	result, err := f.tracer.Trace(child, dest, f.resolveTraceOptions(opts))
	return h, result, err
}

// TraceClassified runs a traceroute and layers ASN/territory classification
// on top, resolving the client's own public IP and ASN along the way.
// Hostnames are resolved before classification (not after) since VPN-entry
// detection needs to inspect them; vpn optionally overrides the facade's
// default VPNContext for this one call.
func (f *Facade) TraceClassified(ctx context.Context, dest net.IP, opts traceroute.Options, vpn ...classify.VPNContext) (Handle, models.ClassifiedTrace, error) {
	child, h, done := f.begin(ctx)
	defer done()

	trace, err := f.tracer.Trace(child, dest, f.resolveTraceOptions(opts))
	if err != nil {
		return h, models.ClassifiedTrace{}, err
	}

	if f.rdnsCache != nil {
		ips := make([]string, 0, len(trace.Hops))
		for _, hop := range trace.Hops {
			if hop.IP != "" {
				ips = append(ips, hop.IP)
			}
		}
		names := f.rdnsCache.ResolveBatch(child, ips)
		for i, hop := range trace.Hops {
			if name, ok := names[hop.IP]; ok {
				trace.Hops[i].Hostname = name
			}
		}
	}

	in := classify.Input{Trace: trace, VPN: f.defaults.VPN}
	if len(vpn) > 0 {
		in.VPN = vpn[0]
	}

	if f.publicIP != nil {
		if res, pErr := f.publicIP.Discover(child); pErr == nil {
			f.noteNetworkChange(child, res.IP)
			if info, aErr := f.lookupASN(child, res.IP); aErr == nil {
				in.ClientASN = info.ASN
				in.ClientASName = info.Name
			}
		}
	}
	if destIP := dest.To4(); destIP != nil {
		if info, aErr := f.lookupASN(child, destIP); aErr == nil {
			in.DestASN = info.ASN
			in.DestASName = info.Name
		}
	}

	classified := f.classifier.Classify(child, in)
	return h, classified, nil
}

// Ping runs a single ping operation.
func (f *Facade) Ping(ctx context.Context, dest net.IP, opts ping.Options) (Handle, models.PingResult, error) {
	child, h, done := f.begin(ctx)
	defer done()

	result, err := f.pinger.Ping(child, dest, f.resolvePingOptions(opts))
	return h, result, err
}

// DiscoverPaths runs a multipath ECMP discovery, classifying each discovered
// path the same way TraceClassified does: resolving the caller's own
// public-IP ASN so the engine can tell "our ISP" apart from transit hops.
func (f *Facade) DiscoverPaths(ctx context.Context, dest net.IP, opts multipath.Options) (Handle, models.NetworkTopology, error) {
	child, h, done := f.begin(ctx)
	defer done()

	opts.Options = f.resolveTraceOptions(opts.Options)
	if opts.ClientASN == 0 && f.publicIP != nil {
		if res, pErr := f.publicIP.Discover(child); pErr == nil {
			f.noteNetworkChange(child, res.IP)
			if info, aErr := f.lookupASN(child, res.IP); aErr == nil {
				opts.ClientASN = info.ASN
				opts.ClientASName = info.Name
			}
		}
	}
	if !opts.VPN.IsVPNTrace && len(opts.VPN.VPNLocalIPs) == 0 {
		opts.VPN = f.defaults.VPN
	}

	topology, err := f.multi.Discover(child, dest, opts)
	return h, topology, err
}

// PublicIP returns the cached/discovered public IP address.
func (f *Facade) PublicIP(ctx context.Context) (publicip.Result, error) {
	if f.publicIP == nil {
		return publicip.Result{}, diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("public ip discovery not configured"))
	}
	res, err := f.publicIP.Discover(ctx)
	if err == nil {
		f.noteNetworkChange(ctx, res.IP)
	}
	return res, err
}

func (f *Facade) lookupASN(ctx context.Context, ip net.IP) (asn.Info, error) {
	if f.asnRes == nil {
		return asn.Info{}, diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("asn resolver not configured"))
	}
	return f.asnRes.Lookup(ctx, ip)
}

// noteNetworkChange compares ip against the last publicly-observed address
// and, if it changed, publishes a network_changed event and invalidates the
// public IP cache so the next lookup re-probes all tiers.
func (f *Facade) noteNetworkChange(ctx context.Context, ip net.IP) {
	f.mu.Lock()
	changed := f.lastPublic != nil && ip != nil && !f.lastPublic.Equal(ip)
	prev := f.lastPublic
	f.lastPublic = ip
	f.mu.Unlock()

	if changed && f.publicIP != nil {
		f.publicIP.Invalidate()
	}
	if !changed || f.bus == nil {
		return
	}

	f.logger.Info("public ip changed", zap.String("previous", prev.String()), zap.String("current", ip.String()))
	f.bus.PublishAsync(ctx, plugin.Event{
		Topic:     EventTopicNetworkChanged,
		Source:    "facade",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"previous": prev.String(),
			"current":  ip.String(),
		},
	})
}
