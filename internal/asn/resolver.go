// Package asn maps IPv4 addresses to the autonomous system that announces
// them. Two independent strategies are supported: a Team Cymru DNS lookup
// (no local state, one round trip per query) and a local MaxMind GeoLite2-ASN
// database (no network, needs a periodically-refreshed .mmdb file). Either
// can be wrapped in CachingResolver to avoid repeat queries for hops seen
// across multiple traces.
package asn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// Info describes the autonomous system announcing an address.
type Info struct {
	ASN      uint32
	Name     string
	Prefix   string
	Country  string
	Registry string
}

// Resolver maps an IPv4 address to its announcing AS.
type Resolver interface {
	Lookup(ctx context.Context, ip net.IP) (Info, error)
}

// cymruDNSResolver implements Resolver via Team Cymru's DNS-based IP-to-ASN
// service: the address is reversed into a query name under
// origin.asn.cymru.com (TXT answer: "ASN | prefix | country | registry |
// allocated"), then the ASN number is queried again under asn.cymru.com for
// its human-readable name.
type cymruDNSResolver struct {
	server string
	client *dns.Client
}

func NewCymruDNS(server string) Resolver {
	return &cymruDNSResolver{server: server, client: &dns.Client{}}
}

func (r *cymruDNSResolver) Lookup(ctx context.Context, ip net.IP) (Info, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Info{}, fmt.Errorf("asn: %s is not an ipv4 address", ip)
	}

	qname := reverseIPv4QueryName(v4) + ".origin.asn.cymru.com."
	txt, err := r.queryTXT(ctx, qname)
	if err != nil {
		return Info{}, fmt.Errorf("asn: origin query: %w", err)
	}

	info, err := parseOriginTXT(txt)
	if err != nil {
		return Info{}, fmt.Errorf("asn: parse origin txt %q: %w", txt, err)
	}

	if nameTXT, err := r.queryTXT(ctx, fmt.Sprintf("AS%d.asn.cymru.com.", info.ASN)); err == nil {
		info.Name = parseASNameTXT(nameTXT)
	}

	return info, nil
}

func (r *cymruDNSResolver) queryTXT(ctx context.Context, qname string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(qname, dns.TypeTXT)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return "", err
	}
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok && len(txt.Txt) > 0 {
			return strings.Join(txt.Txt, ""), nil
		}
	}
	return "", fmt.Errorf("no txt answer for %q", qname)
}

// reverseIPv4QueryName reverses the octets of a dotted IPv4 address, as
// Cymru's origin lookup expects ("1.2.3.4" -> "4.3.2.1").
func reverseIPv4QueryName(ip net.IP) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[3], ip[2], ip[1], ip[0])
}

// parseOriginTXT parses Cymru's pipe-delimited origin record:
// "ASN | prefix | country | registry | allocated date"
func parseOriginTXT(txt string) (Info, error) {
	fields := splitPipeFields(txt)
	if len(fields) < 4 {
		return Info{}, fmt.Errorf("expected at least 4 pipe-delimited fields, got %d", len(fields))
	}

	// Multiple origin ASNs can be space-separated for multi-origin prefixes;
	// take the first.
	asnField := strings.Fields(fields[0])
	if len(asnField) == 0 {
		return Info{}, fmt.Errorf("empty asn field")
	}
	asn, err := strconv.ParseUint(asnField[0], 10, 32)
	if err != nil {
		return Info{}, fmt.Errorf("parse asn %q: %w", asnField[0], err)
	}

	return Info{
		ASN:      uint32(asn),
		Prefix:   fields[1],
		Country:  fields[2],
		Registry: fields[3],
	}, nil
}

// parseASNameTXT parses Cymru's pipe-delimited AS-name record:
// "ASN | country | registry | allocated date | AS name"
func parseASNameTXT(txt string) string {
	fields := splitPipeFields(txt)
	if len(fields) < 5 {
		return ""
	}
	return fields[4]
}

func splitPipeFields(txt string) []string {
	parts := strings.Split(txt, "|")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}
