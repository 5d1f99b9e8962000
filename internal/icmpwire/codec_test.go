package icmpwire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParse_EchoRoundTrip(t *testing.T) {
	wire, err := Build(EchoRequest{ID: 0xbeef, Seq: 7, Payload: []byte("pathlens")})
	require.NoError(t, err)

	// Simulate the kernel flipping this into an Echo Reply, as an
	// unprivileged "udp4" socket would hand it back with no IP header.
	reply := append([]byte(nil), wire...)
	reply[0] = 0 // ICMPTypeEchoReply

	r, err := Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, KindEchoReply, r.Kind)
	assert.Equal(t, uint16(0xbeef), r.EchoID)
	assert.Equal(t, uint16(7), r.EchoSeq)
	assert.False(t, r.HasIPv4Hdr)
}

func TestParse_EchoReplyWithIPv4Header(t *testing.T) {
	wire, err := Build(EchoRequest{ID: 42, Seq: 3})
	require.NoError(t, err)
	wire[0] = 0 // Echo Reply

	pkt := append(syntheticIPv4Header(len(wire)), wire...)

	r, err := Parse(pkt)
	require.NoError(t, err)
	assert.Equal(t, KindEchoReply, r.Kind)
	assert.Equal(t, uint16(42), r.EchoID)
	assert.Equal(t, uint16(3), r.EchoSeq)
	assert.True(t, r.HasIPv4Hdr)
}

func TestParse_TimeExceededQuotesOriginalProbe(t *testing.T) {
	orig, err := Build(EchoRequest{ID: 99, Seq: 5})
	require.NoError(t, err)

	quoted := append(syntheticIPv4Header(len(orig)), orig...)

	// Time Exceeded: type 11, code 0, then 4 unused bytes, then the quoted packet.
	msg := make([]byte, 8+len(quoted))
	msg[0] = 11
	copy(msg[8:], quoted)
	binary.BigEndian.PutUint16(msg[2:4], Checksum(msg))

	r, err := Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, KindTimeExceeded, r.Kind)
	assert.Equal(t, uint16(99), r.EchoID)
	assert.Equal(t, uint16(5), r.EchoSeq)
}

func TestParse_DestinationUnreachableQuotesOriginalProbe(t *testing.T) {
	orig, err := Build(EchoRequest{ID: 11, Seq: 22})
	require.NoError(t, err)
	quoted := append(syntheticIPv4Header(len(orig)), orig...)

	msg := make([]byte, 8+len(quoted))
	msg[0] = 3 // Destination Unreachable
	copy(msg[8:], quoted)
	binary.BigEndian.PutUint16(msg[2:4], Checksum(msg))

	r, err := Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, KindDestinationUnreachable, r.Kind)
	assert.Equal(t, uint16(11), r.EchoID)
	assert.Equal(t, uint16(22), r.EchoSeq)
}

func TestParse_TooShortIsError(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParse_NeverPanicsOnArbitraryInput(t *testing.T) {
	seeds := [][]byte{
		{},
		{0x45, 0x00},
		make([]byte, 19),
		make([]byte, 20),
		{0x45, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 8, 0, 0, 0, 0, 0, 0, 0},
	}
	for _, s := range seeds {
		assert.NotPanics(t, func() { _, _ = Parse(s) })
	}
}

func TestChecksum_ZeroOnValidPacket(t *testing.T) {
	wire, err := Build(EchoRequest{ID: 1, Seq: 1, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), Checksum(wire))
}

// syntheticIPv4Header builds a minimal, plausible-looking 20-byte IPv4
// header (version 4, IHL 5, protocol ICMP) wrapping a payload of length n,
// for tests that need to exercise the with-outer-header parsing path.
func syntheticIPv4Header(n int) []byte {
	h := make([]byte, 20)
	h[0] = 0x45
	binary.BigEndian.PutUint16(h[2:4], uint16(20+n))
	h[8] = 64
	h[9] = 1 // ICMP
	copy(h[12:16], []byte{10, 0, 0, 1})
	copy(h[16:20], []byte{10, 0, 0, 2})
	return h
}
