package traceroute

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/draymonix/pathlens/pkg/models"
)

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.WithDefaults()
	assert.EqualValues(t, DefaultMaxHops, opts.MaxHops)
	assert.Equal(t, DefaultMaxWaitMs, opts.MaxWaitMs)
	assert.Equal(t, DefaultPayloadSize, opts.PayloadSize)
	assert.Equal(t, DefaultRetryAfterMs, opts.RetryAfterMs)
}

func TestOptions_WithDefaults_PreservesExplicitValues(t *testing.T) {
	opts := Options{MaxHops: 5, MaxWaitMs: 200, PayloadSize: 12}.WithDefaults()
	assert.EqualValues(t, 5, opts.MaxHops)
	assert.Equal(t, 200, opts.MaxWaitMs)
	assert.Equal(t, 12, opts.PayloadSize)
}

func TestDefaultICMPID_StableAcrossCalls(t *testing.T) {
	a := defaultICMPID()
	b := defaultICMPID()
	assert.Equal(t, a, b)
}

func TestMsFromDuration(t *testing.T) {
	assert.InDelta(t, 1.5, msFromDuration(1500*1000), 0.001)
}

func TestTTLRange(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, ttlRange(3))
}

func TestReachedAt_ReturnsSmallestReachingTTL(t *testing.T) {
	ttls := ttlRange(5)
	results := map[int]models.Hop{
		3: {TTL: 3, ReachedDestination: true},
		4: {TTL: 4, ReachedDestination: true},
	}
	assert.Equal(t, 3, reachedAt(ttls, results))
}

func TestReachedAt_NoneReachedReturnsZero(t *testing.T) {
	ttls := ttlRange(3)
	results := map[int]models.Hop{1: {TTL: 1, IP: "10.0.0.1"}}
	assert.Equal(t, 0, reachedAt(ttls, results))
}

func TestUnresolvedTTLs_StopsAtReachedTTL(t *testing.T) {
	ttls := ttlRange(5)
	results := map[int]models.Hop{
		1: {TTL: 1, IP: "10.0.0.1"},
		2: {TTL: 2, Timeout: true},
		3: {TTL: 3, ReachedDestination: true},
	}
	assert.Equal(t, []int{2}, unresolvedTTLs(ttls, results, 3))
}

func TestUnresolvedTTLs_MissingEntryCountsAsUnresolved(t *testing.T) {
	ttls := ttlRange(3)
	results := map[int]models.Hop{1: {TTL: 1, IP: "10.0.0.1"}}
	assert.Equal(t, []int{2, 3}, unresolvedTTLs(ttls, results, 0))
}
