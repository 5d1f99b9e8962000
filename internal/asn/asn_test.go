package asn

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOriginTXT(t *testing.T) {
	info, err := parseOriginTXT("15169 | 8.8.8.0/24 | US | arin | 2014-03-14")
	require.NoError(t, err)
	assert.Equal(t, uint32(15169), info.ASN)
	assert.Equal(t, "8.8.8.0/24", info.Prefix)
	assert.Equal(t, "US", info.Country)
	assert.Equal(t, "arin", info.Registry)
}

func TestParseOriginTXT_MultiOriginTakesFirst(t *testing.T) {
	info, err := parseOriginTXT("15169 13335 | 8.8.8.0/24 | US | arin | 2014-03-14")
	require.NoError(t, err)
	assert.Equal(t, uint32(15169), info.ASN)
}

func TestParseOriginTXT_TooFewFields(t *testing.T) {
	_, err := parseOriginTXT("15169 | 8.8.8.0/24")
	assert.Error(t, err)
}

func TestParseASNameTXT(t *testing.T) {
	name := parseASNameTXT("15169 | US | arin | 2000-03-30 | GOOGLE, US")
	assert.Equal(t, "GOOGLE, US", name)
}

func TestReverseIPv4QueryName(t *testing.T) {
	assert.Equal(t, "4.3.2.1", reverseIPv4QueryName(net.ParseIP("1.2.3.4").To4()))
}

type fakeResolver struct {
	calls int
	info  Info
}

func (f *fakeResolver) Lookup(_ context.Context, _ net.IP) (Info, error) {
	f.calls++
	return f.info, nil
}

func TestCachingResolver_CachesByAddress(t *testing.T) {
	fake := &fakeResolver{info: Info{ASN: 15169, Name: "GOOGLE"}}
	c := NewCaching(fake, 10)

	ip := net.ParseIP("8.8.8.8")
	for i := 0; i < 3; i++ {
		info, err := c.Lookup(context.Background(), ip)
		require.NoError(t, err)
		assert.Equal(t, uint32(15169), info.ASN)
	}

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, 1, c.Len())
}

func TestCachingResolver_EvictsWhenFull(t *testing.T) {
	fake := &fakeResolver{info: Info{ASN: 1}}
	c := NewCaching(fake, 2)

	for i := 0; i < 3; i++ {
		ip := net.IPv4(10, 0, 0, byte(i))
		_, err := c.Lookup(context.Background(), ip)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, c.Len(), 2)
}

func TestCachingResolver_DefaultCapacity(t *testing.T) {
	c := NewCaching(&fakeResolver{}, 0)
	assert.Equal(t, DefaultCacheCapacity, c.capacity)
}
