package classify

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draymonix/pathlens/internal/asn"
	"github.com/draymonix/pathlens/pkg/models"
)

type fakeASNResolver struct {
	byIP map[string]asn.Info
}

func (f fakeASNResolver) Lookup(_ context.Context, ip net.IP) (asn.Info, error) {
	info, ok := f.byIP[ip.String()]
	if !ok {
		return asn.Info{}, assert.AnError
	}
	return info, nil
}

func hop(ttl int, ip string) models.Hop {
	return models.Hop{TTL: uint8(ttl), IP: ip}
}

func hopWithHostname(ttl int, ip, hostname string) models.Hop {
	h := hop(ttl, ip)
	h.Hostname = hostname
	return h
}

func timeoutHop(ttl int) models.Hop {
	return models.Hop{TTL: uint8(ttl), Timeout: true}
}

// E1: offline classification with a CGNAT hop. A non-VPN trace still
// classifies the CGNAT address as ISP rather than falling through to
// UNKNOWN or LOCAL.
func TestClassify_OfflineWithCGNATHop(t *testing.T) {
	resolver := fakeASNResolver{byIP: map[string]asn.Info{
		"8.8.8.8":     {ASN: 15169, Name: "GOOGLE"},
		"203.0.113.5": {ASN: 64500, Name: "ACME"},
	}}
	c := New(resolver)

	trace := models.TraceResult{
		Destination: "8.8.8.8",
		Hops: []models.Hop{
			hop(1, "192.168.1.1"),
			hop(2, "100.64.0.1"),
			hop(3, "8.8.8.8"),
		},
		Reached: true,
	}
	trace.Hops[2].ReachedDestination = true

	out := c.Classify(context.Background(), Input{
		Trace:     trace,
		ClientASN: 64500,
		DestASN:   15169,
	})

	require.Len(t, out.Hops, 3)
	assert.Equal(t, models.CategoryLocal, out.Hops[0].Category)
	assert.Equal(t, models.CategoryISP, out.Hops[1].Category, "CGNAT hop in a non-VPN trace must classify ISP")
	assert.Equal(t, models.CategoryDestination, out.Hops[2].Category)
}

// E2: a VPN trace entering tunnel territory via a Tailscale rDNS hostname.
// Every hop from the tunnel entry onward stays VPN, even the LAN-looking
// hop 3, until the destination itself is reached.
func TestClassify_VPNTraceWithTailscaleHostname(t *testing.T) {
	resolver := fakeASNResolver{byIP: map[string]asn.Info{
		"1.1.1.1": {ASN: 13335, Name: "CLOUDFLARE"},
	}}
	c := New(resolver)

	trace := models.TraceResult{
		Destination: "1.1.1.1",
		Hops: []models.Hop{
			hop(1, "10.35.0.1"),
			hopWithHostname(2, "100.120.205.29", "trogdor.tail3b5a2.ts.net"),
			hopWithHostname(3, "192.168.1.1", "unifi.localdomain"),
			hop(4, "157.131.132.109"),
			hop(5, "1.1.1.1"),
		},
		Reached: true,
	}
	trace.Hops[4].ReachedDestination = true

	out := c.Classify(context.Background(), Input{
		Trace: trace,
		VPN:   VPNContext{IsVPNTrace: true},
	})

	require.Len(t, out.Hops, 5)
	assert.Equal(t, models.CategoryLocal, out.Hops[0].Category)
	assert.Equal(t, models.CategoryVPN, out.Hops[1].Category, "CGNAT address should mark tunnel entry")
	assert.Equal(t, models.CategoryVPN, out.Hops[2].Category, "private-looking hop stays VPN once inside the tunnel")
	assert.Equal(t, models.CategoryVPN, out.Hops[3].Category)
	assert.Equal(t, models.CategoryDestination, out.Hops[4].Category)
}

// E3: a dropped probe bounded on both sides by hops of the same category
// and ASN should inherit both, rather than being left UNKNOWN.
func TestClassify_HoleFillingPropagatesASN(t *testing.T) {
	resolver := fakeASNResolver{byIP: map[string]asn.Info{
		"203.0.113.1": {ASN: 1, Name: "AS1-NET"},
		"203.0.113.2": {ASN: 1, Name: "AS1-NET"},
		"203.0.113.3": {ASN: 2, Name: "AS2-NET"},
	}}
	c := New(resolver)

	trace := models.TraceResult{
		Hops: []models.Hop{
			hop(1, "203.0.113.1"),
			timeoutHop(2),
			timeoutHop(3),
			hop(4, "203.0.113.2"),
			hop(5, "203.0.113.3"),
		},
	}

	out := c.Classify(context.Background(), Input{Trace: trace, ClientASN: 1})

	require.Len(t, out.Hops, 5)
	assert.Equal(t, models.CategoryISP, out.Hops[0].Category)
	assert.Equal(t, models.CategoryISP, out.Hops[1].Category, "filled hole should inherit the bounding ISP category")
	assert.Equal(t, uint32(1), out.Hops[1].ASN, "filled hole should also inherit the bounding ASN")
	assert.Equal(t, models.CategoryISP, out.Hops[2].Category)
	assert.Equal(t, uint32(1), out.Hops[2].ASN)
	assert.Equal(t, models.CategoryISP, out.Hops[3].Category, "hop b shares AS1 with hop a, so it stays ISP rather than TRANSIT")
	assert.Equal(t, models.CategoryTransit, out.Hops[4].Category)
}

// A trailing timeout has no right-hand neighbor to bound the hole, so it's
// left UNKNOWN rather than guessed.
func TestClassify_TrailingTimeoutStaysUnknown(t *testing.T) {
	resolver := fakeASNResolver{byIP: map[string]asn.Info{
		"203.0.113.1": {ASN: 64500, Name: "HOME-ISP"},
	}}
	c := New(resolver)

	trace := models.TraceResult{
		Hops: []models.Hop{
			hop(1, "203.0.113.1"),
			timeoutHop(2),
			timeoutHop(3),
		},
	}

	out := c.Classify(context.Background(), Input{Trace: trace, ClientASN: 64500})
	assert.Equal(t, models.CategoryISP, out.Hops[0].Category)
	assert.Equal(t, models.CategoryUnknown, out.Hops[1].Category)
	assert.Equal(t, models.CategoryUnknown, out.Hops[2].Category)
}

func TestClassify_PrivateHopAlwaysLocalBeforeAnyPublicHop(t *testing.T) {
	c := New(fakeASNResolver{})
	trace := models.TraceResult{Hops: []models.Hop{hop(1, "10.0.0.1"), hop(2, "172.16.0.1"), hop(3, "192.168.0.1")}}
	out := c.Classify(context.Background(), Input{Trace: trace})
	for _, h := range out.Hops {
		assert.Equal(t, models.CategoryLocal, h.Category)
	}
}

func TestClassify_PublicHopWithUnknownASNIsTransit(t *testing.T) {
	c := New(fakeASNResolver{})
	trace := models.TraceResult{Hops: []models.Hop{hop(1, "203.0.113.1")}}
	out := c.Classify(context.Background(), Input{Trace: trace, ClientASN: 64500, DestASN: 64520})
	assert.Equal(t, models.CategoryTransit, out.Hops[0].Category)
}
