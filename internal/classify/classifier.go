// Package classify assigns each hop in a trace a HopCategory (local, ISP,
// VPN, transit, destination) by walking the trace in TTL order and
// classifying each resolved hop from its own ASN, rather than advancing a
// forward-only territory counter.
package classify

import (
	"context"
	"net"
	"strings"

	"github.com/draymonix/pathlens/internal/asn"
	"github.com/draymonix/pathlens/pkg/models"
)

// Classifier assigns categories to hops using an ASN resolver. Hostnames, if
// present on the input trace's hops, are consulted for VPN-entry detection
// but never resolved by the classifier itself -- that's the Facade's job,
// done before Classify is called.
type Classifier struct {
	asnResolver asn.Resolver
}

func New(asnResolver asn.Resolver) *Classifier {
	return &Classifier{asnResolver: asnResolver}
}

// VPNContext carries the caller's knowledge of whether a trace ran over a
// VPN tunnel, and any local-side IPs known to belong to that tunnel (e.g. a
// Tailscale or WireGuard interface address) that rDNS alone wouldn't flag.
type VPNContext struct {
	IsVPNTrace  bool
	VPNLocalIPs []string
}

// Input bundles what the classifier needs beyond the raw trace: the
// client's own public IP's ASN (to distinguish "our ISP" from "someone
// else's transit network"), the destination's ASN, and optionally a
// VPNContext when the caller knows or suspects the trace left through a
// tunnel.
type Input struct {
	Trace        models.TraceResult
	ClientASN    uint32
	ClientASName string
	DestASN      uint32
	DestASName   string
	VPN          VPNContext
}

// vpnHostnameSuffixes are rDNS suffixes associated with well-known VPN/mesh
// providers. Matching is case-insensitive.
var vpnHostnameSuffixes = []string{
	".ts.net",
	".tailscale.com",
	".wg.run",
	".mullvad.net",
	".nordvpn.com",
	".expressvpn.com",
	".privateinternetaccess.com",
}

// Classify walks trace.Hops in TTL order, resolving each routable hop's ASN
// and assigning it a category. Hops that timed out are left UNKNOWN and
// patched up afterward by fillHoles when their neighbors agree.
func (c *Classifier) Classify(ctx context.Context, in Input) models.ClassifiedTrace {
	out := models.ClassifiedTrace{
		TraceResult:       in.Trace,
		ClientASN:         in.ClientASN,
		ClientASName:      in.ClientASName,
		DestinationASN:    in.DestASN,
		DestinationASName: in.DestASName,
		Hops:              make([]models.ClassifiedHop, len(in.Trace.Hops)),
	}

	vpnLocal := make(map[string]bool, len(in.VPN.VPNLocalIPs))
	for _, ip := range in.VPN.VPNLocalIPs {
		vpnLocal[ip] = true
	}

	var seenPublicIP, inVPNTerritory bool

	for i, hop := range in.Trace.Hops {
		ch := models.ClassifiedHop{Hop: hop, Category: models.CategoryUnknown}

		if hop.Timeout || hop.IP == "" {
			out.Hops[i] = ch
			continue
		}

		isPrivate := isPrivateIPv4(hop.IP)
		isCGNAT := isCGNATIPv4(hop.IP)
		isDestination := hop.IP == in.Trace.Destination

		if !isPrivate && !isCGNAT {
			if info, err := c.resolveASN(ctx, hop.IP); err == nil {
				ch.ASN = info.ASN
				ch.ASName = info.Name
			}
		}

		if in.VPN.IsVPNTrace {
			if !inVPNTerritory && isVPNEntry(hop, isCGNAT, vpnLocal) {
				inVPNTerritory = true
			}

			switch {
			case inVPNTerritory:
				ch.Category = vpnOrDestination(isDestination)
			case isPrivate:
				ch.Category = models.CategoryLocal
			default:
				seenPublicIP = true
				ch.Category = publicCategory(ch.ASN, in.ClientASN, in.DestASN)
			}
		} else {
			switch {
			case isPrivate && !seenPublicIP:
				ch.Category = models.CategoryLocal
			case isPrivate, isCGNAT:
				// Either a private hop seen after the public egress (internal
				// ISP routing, e.g. a second NAT layer) or a CGNAT hop: both
				// are still the ISP's network.
				ch.Category = models.CategoryISP
			default:
				seenPublicIP = true
				ch.Category = publicCategory(ch.ASN, in.ClientASN, in.DestASN)
			}
		}

		out.Hops[i] = ch
	}

	fillHoles(out.Hops)
	return out
}

// ResolveASN exposes the classifier's ASN lookup for callers (multipath's
// per-path classification) that need a destination's ASN outside of a full
// Classify call.
func (c *Classifier) ResolveASN(ctx context.Context, ip string) (asn.Info, error) {
	return c.resolveASN(ctx, ip)
}

func (c *Classifier) resolveASN(ctx context.Context, ip string) (asn.Info, error) {
	if c.asnResolver == nil {
		return asn.Info{}, nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return asn.Info{}, nil
	}
	return c.asnResolver.Lookup(ctx, parsed)
}

// isVPNEntry reports whether hop is the point a VPN-flagged trace enters
// tunnel territory: a CGNAT address (common for mesh VPNs like Tailscale),
// an rDNS hostname ending in a known VPN provider's suffix, or an IP the
// caller already knows belongs to the tunnel.
func isVPNEntry(hop models.Hop, isCGNAT bool, vpnLocal map[string]bool) bool {
	if isCGNAT {
		return true
	}
	if hasVPNHostnameSuffix(hop.Hostname) {
		return true
	}
	return vpnLocal[hop.IP]
}

func hasVPNHostnameSuffix(hostname string) bool {
	if hostname == "" {
		return false
	}
	lower := strings.ToLower(hostname)
	for _, suffix := range vpnHostnameSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func vpnOrDestination(isDestination bool) models.HopCategory {
	if isDestination {
		return models.CategoryDestination
	}
	return models.CategoryVPN
}

// publicCategory classifies a routable hop from its own ASN: the client's
// own egress ASN is ISP, the destination's ASN is DESTINATION, anything
// else -- including an ASN the resolver couldn't find -- is TRANSIT.
func publicCategory(hopASN, clientASN, destASN uint32) models.HopCategory {
	switch {
	case clientASN != 0 && hopASN == clientASN:
		return models.CategoryISP
	case destASN != 0 && hopASN == destASN:
		return models.CategoryDestination
	default:
		return models.CategoryTransit
	}
}

// fillHoles assigns a category (and, if the bounding hops also agree on
// ASN, the ASN too) to every maximal run of timed-out hops that sits
// between two known hops of the same category. A run open on either end
// (leading or trailing timeouts) is left UNKNOWN: there's nothing to
// interpolate from.
func fillHoles(hops []models.ClassifiedHop) {
	i := 0
	for i < len(hops) {
		if hops[i].Category != models.CategoryUnknown {
			i++
			continue
		}

		start := i
		for i < len(hops) && hops[i].Category == models.CategoryUnknown {
			i++
		}
		end := i

		if start == 0 || end == len(hops) {
			continue
		}

		prev := hops[start-1]
		next := hops[end]
		if prev.Category == models.CategoryUnknown || prev.Category != next.Category {
			continue
		}

		sameASN := prev.ASN != 0 && prev.ASN == next.ASN
		for j := start; j < end; j++ {
			hops[j].Category = prev.Category
			if sameASN {
				hops[j].ASN = prev.ASN
				hops[j].ASName = prev.ASName
			}
		}
	}
}

// isPrivateIPv4 reports whether ip falls in an RFC 1918 private block,
// link-local, or loopback -- the hallmark of a LOCAL-territory hop (a home
// router, typically the first hop of any trace).
func isPrivateIPv4(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, cidr := range privateBlocks {
		if cidr.Contains(parsed) {
			return true
		}
	}
	return false
}

// isCGNATIPv4 reports whether ip falls in the RFC 6598 shared address space
// carriers use for carrier-grade NAT (and mesh VPNs like Tailscale) --
// distinct from RFC 1918 space, and classified as ISP rather than LOCAL.
func isCGNATIPv4(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return cgnatBlock.Contains(parsed)
}

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
)

var cgnatBlock = mustParseCIDRs("100.64.0.0/10")[0]

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}
