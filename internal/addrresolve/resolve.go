// Package addrresolve turns a user-supplied destination (dotted IPv4 or
// hostname) into the IPv4 address the engines probe, using miekg/dns for the
// hostname path so resolution gets the same bounded, compression-pointer-safe
// message parsing the rest of pathlens's DNS lookups rely on.
package addrresolve

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"
)

// Resolver resolves a destination string to an IPv4 address.
type Resolver interface {
	Resolve(ctx context.Context, destination string) (net.IP, error)
}

// dnsResolver issues an A-record query against a configured DNS server. The
// numeric fast path never touches the network.
type dnsResolver struct {
	server   string // "ip:port", e.g. "1.1.1.1:53"
	client   *dns.Client
	limiter  *rate.Limiter
}

// New returns a Resolver that queries server for hostnames it can't parse
// as a literal IPv4 address. limiter bounds outbound query rate; pass nil
// for no limiting.
func New(server string, limiter *rate.Limiter) Resolver {
	return &dnsResolver{
		server:  server,
		client:  &dns.Client{},
		limiter: limiter,
	}
}

func (r *dnsResolver) Resolve(ctx context.Context, destination string) (net.IP, error) {
	if ip := net.ParseIP(destination); ip != nil {
		v4 := ip.To4()
		if v4 == nil {
			return nil, fmt.Errorf("addrresolve: %q is not an IPv4 address", destination)
		}
		return v4, nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("addrresolve: rate limit wait: %w", err)
		}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(destination), dns.TypeA)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("addrresolve: query %q: %w", destination, err)
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			if v4 := a.A.To4(); v4 != nil {
				return v4, nil
			}
		}
	}
	return nil, fmt.Errorf("addrresolve: no A record for %q", destination)
}
