// Package icmpwire builds and parses the ICMPv4 messages pathlens's probes
// need: Echo Request/Reply, Time Exceeded, and Destination Unreachable. It is
// tolerant of both framings a probe might observe a reply in: the bare ICMP
// message golang.org/x/net/icmp hands back from a "udp4" unprivileged socket,
// and the full packet (IPv4 header + ICMP) a raw SOCK_RAW socket returns.
package icmpwire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	minIPv4HeaderLen = 20
	icmpHeaderLen    = 8
)

// EchoRequest is the wire-independent shape of an outbound probe.
type EchoRequest struct {
	ID      uint16
	Seq     uint16
	Payload []byte
}

// Build marshals an ICMPv4 Echo Request ready to write to the wire.
func Build(req EchoRequest) ([]byte, error) {
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(req.ID),
			Seq:  int(req.Seq),
			Data: req.Payload,
		},
	}
	return msg.Marshal(nil)
}

// ReplyKind classifies a parsed inbound ICMP message.
type ReplyKind int

const (
	KindUnknown ReplyKind = iota
	KindEchoReply
	KindTimeExceeded
	KindDestinationUnreachable
)

// Reply is the normalized result of parsing an inbound ICMP datagram,
// regardless of whether it arrived with an outer IPv4 header attached.
type Reply struct {
	Kind       ReplyKind
	EchoID     uint16 // ID/Seq of the *original* probe this reply quotes/echoes
	EchoSeq    uint16
	HasIPv4Hdr bool // whether buf carried a leading IPv4 header
}

// Parse inspects buf, which may or may not start with an IPv4 header,
// and returns the normalized Reply describing it. Non-ICMP or malformed
// input returns an error.
func Parse(buf []byte) (Reply, error) {
	payload, hadHdr, err := stripIPv4Header(buf)
	if err != nil {
		return Reply{}, err
	}

	msg, err := icmp.ParseMessage(1, payload)
	if err != nil {
		return Reply{}, fmt.Errorf("parse icmp message: %w", err)
	}

	switch msg.Type {
	case ipv4.ICMPTypeEchoReply:
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok {
			return Reply{}, fmt.Errorf("echo reply with unexpected body type %T", msg.Body)
		}
		return Reply{Kind: KindEchoReply, EchoID: uint16(echo.ID), EchoSeq: uint16(echo.Seq), HasIPv4Hdr: hadHdr}, nil

	case ipv4.ICMPTypeTimeExceeded:
		id, seq, ok := quotedEcho(msg.Body)
		if !ok {
			return Reply{Kind: KindTimeExceeded, HasIPv4Hdr: hadHdr}, nil
		}
		return Reply{Kind: KindTimeExceeded, EchoID: id, EchoSeq: seq, HasIPv4Hdr: hadHdr}, nil

	case ipv4.ICMPTypeDestinationUnreachable:
		id, seq, ok := quotedEcho(msg.Body)
		if !ok {
			return Reply{Kind: KindDestinationUnreachable, HasIPv4Hdr: hadHdr}, nil
		}
		return Reply{Kind: KindDestinationUnreachable, EchoID: id, EchoSeq: seq, HasIPv4Hdr: hadHdr}, nil

	default:
		return Reply{Kind: KindUnknown, HasIPv4Hdr: hadHdr}, nil
	}
}

// stripIPv4Header detects whether buf begins with an IPv4 header (version
// nibble == 4, protocol == ICMP, and an IHL that leaves room for a full ICMP
// header after it) and, if so, returns the ICMP payload after it. Unprivileged "udp4" sockets hand back bare ICMP;
// raw SOCK_RAW sockets on most platforms hand back the full IP packet. Both
// must work without the caller knowing which socket type produced buf.
func stripIPv4Header(buf []byte) (payload []byte, hadHeader bool, err error) {
	if len(buf) < icmpHeaderLen {
		return nil, false, fmt.Errorf("icmp buffer too short: %d bytes", len(buf))
	}

	if looksLikeIPv4Header(buf) {
		ihl := int(buf[0]&0x0f) * 4
		if ihl >= minIPv4HeaderLen && len(buf) >= ihl+icmpHeaderLen {
			return buf[ihl:], true, nil
		}
	}

	return buf, false, nil
}

// looksLikeIPv4Header reports whether buf's first byte plausibly begins an
// IPv4 header carrying ICMP: version nibble 4, declared protocol 1, and an
// IHL of at least 20 bytes with at least one byte after it.
func looksLikeIPv4Header(buf []byte) bool {
	if len(buf) < minIPv4HeaderLen+1 {
		return false
	}
	if buf[0]>>4 != 4 {
		return false
	}
	ihl := int(buf[0]&0x0f) * 4
	if ihl < minIPv4HeaderLen || len(buf) < ihl+1 {
		return false
	}
	return buf[9] == 1 // protocol field: ICMP
}

// quotedEcho extracts the ID/Seq of the original Echo Request quoted inside
// a Time Exceeded or Destination Unreachable message's data.
func quotedEcho(body icmp.MessageBody) (id, seq uint16, ok bool) {
	var data []byte
	switch b := body.(type) {
	case *icmp.TimeExceeded:
		data = b.Data
	case *icmp.DstUnreach:
		data = b.Data
	default:
		return 0, 0, false
	}
	return parseQuotedEcho(data)
}

// parseQuotedEcho parses the quoted inner packet carried by an ICMP error:
// an IPv4 header (normally 20 bytes, but honoring IHL) followed by at least
// 8 bytes of the original ICMP Echo Request.
func parseQuotedEcho(data []byte) (id, seq uint16, ok bool) {
	if len(data) < minIPv4HeaderLen+icmpHeaderLen {
		return 0, 0, false
	}
	ihl := int(data[0]&0x0f) * 4
	if ihl < minIPv4HeaderLen || len(data) < ihl+icmpHeaderLen {
		return 0, 0, false
	}
	inner := data[ihl:]
	if inner[0] != 8 { // ICMP Echo Request
		return 0, 0, false
	}
	id = binary.BigEndian.Uint16(inner[4:6])
	seq = binary.BigEndian.Uint16(inner[6:8])
	return id, seq, true
}

// Checksum computes the Internet checksum (RFC 1071) over b, used when a
// caller assembles a raw IPv4 header itself (IP_HDRINCL sends) rather than
// going through golang.org/x/net/icmp's own marshaling.
func Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for (sum >> 16) != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
