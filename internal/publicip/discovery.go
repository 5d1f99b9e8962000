// Package publicip discovers the caller's externally-visible IPv4 address
// through a tiered set of strategies, from fastest/most-local (UPnP IGD) to
// most universal (STUN, then DNS). A discovered address is cached until the
// caller invalidates it (e.g. on a detected network change).
package publicip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/pkg/catalog"
)

// Tier identifies which discovery strategy produced an address.
type Tier string

const (
	TierOverride Tier = "override"
	TierUPnP     Tier = "upnp"
	TierSTUN     Tier = "stun"
	TierDNS      Tier = "dns"
)

// Result is a discovered public IP and the tier that found it.
type Result struct {
	IP   net.IP
	Tier Tier
}

// Discovery resolves and caches the caller's public IPv4 address.
type Discovery struct {
	override    net.IP
	stunServers []string
	dnsServer   string
	timeout     time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	cached *Result
}

// Config configures a Discovery.
type Config struct {
	// Override, if non-nil, short-circuits every other tier.
	Override net.IP
	// StunServers is tried in order; the first server to answer wins.
	StunServers []string
	// DnsServer is an "ip:port" resolver used for the TXT-record fallback.
	DnsServer string
	Timeout   time.Duration
	Logger    *zap.Logger
}

func New(cfg Config) *Discovery {
	servers := cfg.StunServers
	if len(servers) == 0 {
		if fromCatalog, err := catalog.NewCatalog().StunServers(); err == nil {
			servers = fromCatalog
		} else {
			servers = []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"}
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		override:    cfg.Override,
		stunServers: servers,
		dnsServer:   cfg.DnsServer,
		timeout:     timeout,
		logger:      logger,
	}
}

// Discover returns the cached address if present, otherwise runs the tier
// chain: override, UPnP IGD, STUN (first responder), DNS TXT fallback.
func (d *Discovery) Discover(ctx context.Context) (Result, error) {
	d.mu.Lock()
	if d.cached != nil {
		r := *d.cached
		d.mu.Unlock()
		return r, nil
	}
	d.mu.Unlock()

	r, err := d.discoverUncached(ctx)
	if err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	d.cached = &r
	d.mu.Unlock()
	return r, nil
}

// Invalidate drops the cached address, forcing the next Discover call to
// re-run the tier chain. Callers invoke this on a detected network change.
func (d *Discovery) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func (d *Discovery) discoverUncached(ctx context.Context) (Result, error) {
	if d.override != nil {
		return Result{IP: d.override, Tier: TierOverride}, nil
	}

	if ip, err := d.viaUPnP(ctx); err == nil {
		return Result{IP: ip, Tier: TierUPnP}, nil
	} else {
		d.logger.Debug("publicip: upnp tier failed", zap.Error(err))
	}

	for _, server := range d.stunServers {
		tctx, cancel := context.WithTimeout(ctx, d.timeout)
		ip, err := queryStun(tctx, server, d.timeout)
		cancel()
		if err == nil {
			return Result{IP: ip, Tier: TierSTUN}, nil
		}
		d.logger.Debug("publicip: stun tier failed", zap.String("server", server), zap.Error(err))
	}

	if d.dnsServer != "" {
		if ip, err := d.viaDNS(ctx); err == nil {
			return Result{IP: ip, Tier: TierDNS}, nil
		} else {
			d.logger.Debug("publicip: dns tier failed", zap.Error(err))
		}
	}

	return Result{}, fmt.Errorf("publicip: all discovery tiers failed")
}

// viaUPnP asks the LAN's UPnP Internet Gateway Device for the WAN address
// it has assigned, when one is reachable on the local segment.
func (d *Discovery) viaUPnP(ctx context.Context) (net.IP, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return nil, fmt.Errorf("discover upnp igd clients: %w", err)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no upnp igd clients found")
	}

	addrStr, err := clients[0].GetExternalIPAddress()
	if err != nil {
		return nil, fmt.Errorf("query upnp external ip: %w", err)
	}
	ip := net.ParseIP(addrStr).To4()
	if ip == nil {
		return nil, fmt.Errorf("upnp returned non-ipv4 address %q", addrStr)
	}
	return ip, nil
}

// viaDNS resolves a well-known TXT record that public DNS resolvers answer
// with the querying client's own address, mirroring the resolver-cooperation
// trick OpenDNS/Google DNS expose (e.g. "o-o.myaddr.l.google.com").
func (d *Discovery) viaDNS(ctx context.Context) (net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn("o-o.myaddr.l.google.com"), dns.TypeTXT)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: d.timeout}
	in, _, err := client.ExchangeContext(ctx, msg, d.dnsServer)
	if err != nil {
		return nil, fmt.Errorf("query public-ip txt record: %w", err)
	}
	for _, rr := range in.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok || len(txt.Txt) == 0 {
			continue
		}
		if ip := net.ParseIP(txt.Txt[0]).To4(); ip != nil {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("no usable txt answer for public ip")
}
