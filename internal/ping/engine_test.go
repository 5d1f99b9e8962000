package ping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/draymonix/pathlens/pkg/models"
)

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultCount, opts.Count)
	assert.Equal(t, DefaultIntervalMs, opts.IntervalMs)
	assert.Equal(t, DefaultMaxWaitMs, opts.MaxWaitMs)
	assert.Equal(t, DefaultPayloadSize, opts.PayloadSize)
	assert.Equal(t, DefaultTTL, opts.TTL)
}

func mkResponse(rtt time.Duration, has bool) models.PingResponse {
	return models.PingResponse{RTT: rtt, HasRTT: has}
}

func TestComputeStatistics_AllReceived(t *testing.T) {
	responses := []models.PingResponse{
		mkResponse(10*time.Millisecond, true),
		mkResponse(20*time.Millisecond, true),
		mkResponse(30*time.Millisecond, true),
	}
	stats := computeStatistics(responses)

	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 3, stats.Received)
	assert.Equal(t, 0.0, stats.PacketLoss)
	assert.Equal(t, 10*time.Millisecond, stats.MinRTT)
	assert.Equal(t, 30*time.Millisecond, stats.MaxRTT)
	assert.Equal(t, 20*time.Millisecond, stats.AvgRTT)
	assert.True(t, stats.HasJitter)
}

func TestComputeStatistics_PartialLoss(t *testing.T) {
	responses := []models.PingResponse{
		mkResponse(10*time.Millisecond, true),
		mkResponse(0, false),
	}
	stats := computeStatistics(responses)

	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 1, stats.Received)
	assert.InDelta(t, 0.5, stats.PacketLoss, 0.001)
}

func TestComputeStatistics_TotalLoss(t *testing.T) {
	responses := []models.PingResponse{mkResponse(0, false), mkResponse(0, false)}
	stats := computeStatistics(responses)

	assert.Equal(t, 0, stats.Received)
	assert.Equal(t, 1.0, stats.PacketLoss)
	assert.False(t, stats.HasJitter)
}

func TestComputeStatistics_SingleResponseNoJitter(t *testing.T) {
	responses := []models.PingResponse{mkResponse(10 * time.Millisecond, true)}
	stats := computeStatistics(responses)

	assert.False(t, stats.HasJitter, "jitter requires at least two samples")
	assert.Equal(t, time.Duration(0), stats.Jitter)
}

func TestComputeStatistics_JitterIsPopulationStddev(t *testing.T) {
	// Samples 10, 20, 30ms: mean 20, population variance = ((10)^2+(0)^2+(10)^2)/3 = 66.67 -> stddev ~8.165ms
	responses := []models.PingResponse{
		mkResponse(10*time.Millisecond, true),
		mkResponse(20*time.Millisecond, true),
		mkResponse(30*time.Millisecond, true),
	}
	stats := computeStatistics(responses)
	assert.InDelta(t, 8.165, stats.JitterMs, 0.01)
}

func TestSessionICMPID_UniquePerCall(t *testing.T) {
	a := sessionICMPID()
	b := sessionICMPID()
	assert.NotEqual(t, a, b)
}
