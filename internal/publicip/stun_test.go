package publicip

import (
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStunResponse(txID []byte, ip [4]byte, port uint16) []byte {
	attr := make([]byte, 8)
	attr[1] = 0x01 // family IPv4
	binary.BigEndian.PutUint16(attr[2:4], port^uint16(stunMagicCookie>>16))
	var xored [4]byte
	binary.BigEndian.PutUint32(xored[:], binary.BigEndian.Uint32(ip[:])^stunMagicCookie)
	copy(attr[4:8], xored[:])

	body := make([]byte, 4+len(attr))
	binary.BigEndian.PutUint16(body[0:2], stunAttrXorMappedAddr)
	binary.BigEndian.PutUint16(body[2:4], uint16(len(attr)))
	copy(body[4:], attr)

	msg := make([]byte, stunHeaderLen+len(body))
	binary.BigEndian.PutUint16(msg[0:2], stunBindingResponse)
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(body)))
	binary.BigEndian.PutUint32(msg[4:8], stunMagicCookie)
	copy(msg[8:20], txID)
	copy(msg[20:], body)
	return msg
}

func TestParseStunResponse_XorMappedAddress(t *testing.T) {
	txID := make([]byte, 12)
	for i := range txID {
		txID[i] = byte(i)
	}
	want := [4]byte{203, 0, 113, 42}
	msg := buildStunResponse(txID, want, 51820)

	ip, err := parseStunResponse(msg, txID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.42", ip.String())
}

func TestParseStunResponse_RejectsWrongTransaction(t *testing.T) {
	txID := make([]byte, 12)
	msg := buildStunResponse(txID, [4]byte{1, 2, 3, 4}, 1)

	otherID := append([]byte(nil), txID...)
	otherID[0] = 0xff
	_, err := parseStunResponse(msg, otherID)
	assert.Error(t, err)
}

func TestParseStunResponse_TooShort(t *testing.T) {
	_, err := parseStunResponse([]byte{1, 2, 3}, make([]byte, 12))
	assert.Error(t, err)
}

func TestDiscovery_OverrideTierShortCircuits(t *testing.T) {
	d := New(Config{Override: net.ParseIP("198.51.100.7").To4()})
	r, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TierOverride, r.Tier)
	assert.Equal(t, "198.51.100.7", r.IP.String())
}
