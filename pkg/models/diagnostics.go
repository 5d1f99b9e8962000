// Package models holds the data types shared across pathlens's diagnostics
// engines: traceroute, ping, multipath discovery, and ASN-based
// classification. None of these types carry behavior beyond small derived
// accessors -- each is produced by a single engine call and handed back to
// the caller, never shared as mutable state.
package models

import "time"

// FlowIdentifier is the ICMP identifier used to keep every probe in one
// trace on the same ECMP path (Paris-style consistency), or to vary it
// across traces to enumerate distinct paths (Dublin-style enumeration).
type FlowIdentifier struct {
	ICMPID    uint16
	Variation uint32
}

// flowVariationMultiplier spaces variations across the 16-bit identifier space so
// that adjacent variations differ in their low bits, which is what ECMP
// hashing on the identifier field actually exercises.
const flowVariationMultiplier = 40503 // Knuth's multiplicative hash constant, truncated to fit

// GenerateFlowIdentifier derives a flow identifier for the given base ICMP
// identifier and variation index. The same variation always yields the same
// identifier (deterministic), and distinct variations differ in their low
// bits.
func GenerateFlowIdentifier(base uint16, variation uint32) FlowIdentifier {
	id := base ^ uint16(variation*flowVariationMultiplier)
	return FlowIdentifier{ICMPID: id, Variation: variation}
}

// ProbeKey identifies one outstanding probe within a single engine instance.
// Sequence equals the TTL of the probe that was sent.
type ProbeKey struct {
	ICMPID   uint16
	Sequence uint16
}

// Hop is a single traceroute hop.
type Hop struct {
	TTL                 uint8         `json:"ttl"`
	IP                  string        `json:"ip,omitempty"`
	RTT                 time.Duration `json:"-"`
	RTTMs               float64       `json:"rtt_ms,omitempty"`
	ReachedDestination  bool          `json:"reached_destination"`
	Hostname            string        `json:"hostname,omitempty"`
	Timeout             bool          `json:"timeout"`
}

// HasRTT reports whether the hop produced a round-trip-time measurement
// (i.e. it was not a timeout placeholder).
func (h Hop) HasRTT() bool { return !h.Timeout && h.RTT >= 0 }

// TraceResult is the outcome of one traceroute run.
type TraceResult struct {
	Destination string        `json:"destination"`
	MaxHops     uint8         `json:"max_hops"`
	Reached     bool          `json:"reached"`
	Hops        []Hop         `json:"hops"`
	Duration    time.Duration `json:"-"`
	DurationMs  float64       `json:"duration_ms"`
}

// AsnInfo is an ASN record as resolved by an AsnResolver.
type AsnInfo struct {
	ASN      uint32 `json:"asn"`
	Name     string `json:"name"`
	Prefix   string `json:"prefix,omitempty"`
	Country  string `json:"country,omitempty"`
	Registry string `json:"registry,omitempty"`
}

// HopCategory classifies a hop's position in the network path.
type HopCategory string

const (
	CategoryLocal       HopCategory = "LOCAL"
	CategoryISP         HopCategory = "ISP"
	CategoryTransit     HopCategory = "TRANSIT"
	CategoryDestination HopCategory = "DESTINATION"
	CategoryVPN         HopCategory = "VPN"
	CategoryUnknown     HopCategory = "UNKNOWN"
)

// ClassifiedHop is a Hop enriched with ASN and category information.
type ClassifiedHop struct {
	Hop
	ASN      uint32      `json:"asn,omitempty"`
	ASName   string      `json:"as_name,omitempty"`
	Category HopCategory `json:"category"`
}

// ClassifiedTrace is a TraceResult enriched with client/destination context
// and per-hop classification.
type ClassifiedTrace struct {
	TraceResult
	DestinationHostname string          `json:"destination_hostname,omitempty"`
	PublicIP            string          `json:"public_ip,omitempty"`
	PublicIPHostname    string          `json:"public_ip_hostname,omitempty"`
	ClientASN           uint32          `json:"client_asn,omitempty"`
	ClientASName        string          `json:"client_as_name,omitempty"`
	DestinationASN      uint32          `json:"destination_asn,omitempty"`
	DestinationASName   string          `json:"destination_as_name,omitempty"`
	Hops                []ClassifiedHop `json:"classified_hops"`
}

// PingResponse is the outcome of a single echo sequence within a ping run.
type PingResponse struct {
	Sequence    uint32        `json:"sequence"`
	RTT         time.Duration `json:"-"`
	RTTMs       float64       `json:"rtt_ms,omitempty"`
	HasRTT      bool          `json:"has_rtt"`
	TTLObserved uint8         `json:"ttl_observed,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// PingStatistics aggregates a ping run's responses.
type PingStatistics struct {
	Sent        int           `json:"sent"`
	Received    int           `json:"received"`
	PacketLoss  float64       `json:"packet_loss"`
	MinRTT      time.Duration `json:"-"`
	AvgRTT      time.Duration `json:"-"`
	MaxRTT      time.Duration `json:"-"`
	Jitter      time.Duration `json:"-"`
	HasJitter   bool          `json:"has_jitter"`
	MinRTTMs    float64       `json:"min_rtt_ms,omitempty"`
	AvgRTTMs    float64       `json:"avg_rtt_ms,omitempty"`
	MaxRTTMs    float64       `json:"max_rtt_ms,omitempty"`
	JitterMs    float64       `json:"jitter_ms,omitempty"`
}

// PingResult is the complete outcome of a ping operation.
type PingResult struct {
	Target     string         `json:"target"`
	Responses  []PingResponse `json:"responses"`
	Statistics PingStatistics `json:"statistics"`
}

// DiscoveredPath is one traceroute result gathered during multipath
// discovery, along with its dedup fingerprint.
type DiscoveredPath struct {
	FlowID      FlowIdentifier  `json:"flow_id"`
	Trace       ClassifiedTrace `json:"trace"`
	Fingerprint string          `json:"fingerprint"`
	IsUnique    bool            `json:"is_unique"`
}

// NetworkTopology is the result of an ECMP path-discovery run.
type NetworkTopology struct {
	Destination       string           `json:"destination"`
	DestinationIP     string           `json:"destination_ip"`
	SourceInterface   string           `json:"source_interface,omitempty"`
	SourceIP          string           `json:"source_ip,omitempty"`
	PublicIP          string           `json:"public_ip,omitempty"`
	Paths             []DiscoveredPath `json:"paths"`
	UniquePathCount   int              `json:"unique_path_count"`
	DiscoveryDuration time.Duration    `json:"-"`
}
