// Package ping implements repeated ICMP Echo probing against a single
// destination, reporting per-probe RTT plus aggregate statistics (min/avg/max
// RTT, jitter, packet loss).
package ping

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/draymonix/pathlens/internal/diagerr"
	"github.com/draymonix/pathlens/internal/icmpsock"
	"github.com/draymonix/pathlens/internal/icmpwire"
	"github.com/draymonix/pathlens/internal/monoclock"
	"github.com/draymonix/pathlens/pkg/models"
)

const (
	DefaultCount       = 4
	DefaultIntervalMs  = 1000
	DefaultMaxWaitMs   = 1000
	DefaultPayloadSize = 56
	DefaultTTL         = 64
)

// Options configures a ping run.
type Options struct {
	Count       int
	IntervalMs  int
	MaxWaitMs   int
	PayloadSize int
	TTL         int
	Interface   string
	SourceIP    net.IP
}

func (o Options) withDefaults() Options {
	if o.Count == 0 {
		o.Count = DefaultCount
	}
	if o.IntervalMs == 0 {
		o.IntervalMs = DefaultIntervalMs
	}
	if o.MaxWaitMs == 0 {
		o.MaxWaitMs = DefaultMaxWaitMs
	}
	if o.PayloadSize == 0 {
		o.PayloadSize = DefaultPayloadSize
	}
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Engine runs ICMP ping sweeps. It reuses the icmpsock package's socket
// backends (portable icmp.PacketConn, Linux raw+bound) since an Echo
// Request/Reply round trip is the same primitive a traceroute TTL probe
// uses, just sent at one fixed TTL (Options.TTL, DefaultTTL when unset)
// instead of a sweep.
type Engine struct {
	clock  monoclock.Clock
	logger *zap.Logger
}

func New(clock monoclock.Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = monoclock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{clock: clock, logger: logger}
}

// Ping sends Count Echo Requests at IntervalMs apart and returns every
// response (including timeouts) plus the aggregate statistics.
func (e *Engine) Ping(ctx context.Context, dest net.IP, opts Options) (models.PingResult, error) {
	opts = opts.withDefaults()
	dest = dest.To4()
	if dest == nil {
		return models.PingResult{}, diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("destination must be ipv4"))
	}

	sock, err := icmpsock.Open(opts.Interface, opts.SourceIP)
	if err != nil {
		return models.PingResult{}, err
	}
	defer sock.Close()

	// A session-scoped ICMP ID distinguishes this ping run's packets from
	// any other probe sharing the host, the same way a TCP/UDP socket's
	// ephemeral port disambiguates connections.
	id := sessionICMPID()

	// One receive loop demultiplexes replies to every in-flight sequence by
	// their echoed (id, seq), rather than each probe goroutine racing the
	// others for datagrams on the shared socket.
	demux := icmpsock.NewDemux(sock, id)
	defer demux.Close()

	if err := sock.SetTTL(opts.TTL); err != nil {
		e.logger.Debug("ping: set ttl failed", zap.Error(err))
	}

	payload := make([]byte, opts.PayloadSize)
	timeout := time.Duration(opts.MaxWaitMs) * time.Millisecond
	interval := time.Duration(opts.IntervalMs) * time.Millisecond

	responses := make([]models.PingResponse, opts.Count)

	g, gctx := errgroup.WithContext(ctx)
	for seq := 0; seq < opts.Count; seq++ {
		seq := seq
		if seq > 0 {
			select {
			case <-time.After(interval):
			case <-gctx.Done():
			}
		}
		if gctx.Err() != nil {
			responses[seq] = models.PingResponse{Sequence: uint32(seq), Timestamp: time.Now()}
			continue
		}

		g.Go(func() error {
			resp := e.probe(gctx, sock, demux, dest, id, uint16(seq), uint8(opts.TTL), timeout, payload)
			responses[seq] = resp
			return nil
		})
	}
	_ = g.Wait()

	return models.PingResult{
		Target:     dest.String(),
		Responses:  responses,
		Statistics: computeStatistics(responses),
	}, nil
}

// probe sends one Echo Request and awaits its reply via demux rather than
// reading the socket directly, so it can't steal a datagram meant for a
// different in-flight sequence. A Time Exceeded or Destination Unreachable
// quoting this probe's (id, seq) records ttl_observed but doesn't end the
// wait -- it isn't the echo reply itself, and one may still arrive before
// deadline.
func (e *Engine) probe(ctx context.Context, sock icmpsock.Socket, demux *icmpsock.Demux, dest net.IP, id, seq uint16, ttl uint8, timeout time.Duration, payload []byte) models.PingResponse {
	resp := models.PingResponse{Sequence: uint32(seq), Timestamp: time.Now()}

	wire, err := icmpwire.Build(icmpwire.EchoRequest{ID: id, Seq: seq, Payload: payload})
	if err != nil {
		return resp
	}

	sendTime := e.clock.Now()
	if err := sock.Send(wire, dest); err != nil {
		e.logger.Debug("ping: send failed", zap.Uint16("seq", seq), zap.Error(err))
		return resp
	}

	deadline := sendTime.Add(timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(deadline) {
		deadline = ctxDL
	}

	for {
		delivery, err := demux.Await(ctx, seq, deadline)
		if err != nil {
			return resp
		}

		switch delivery.Reply.Kind {
		case icmpwire.KindEchoReply:
			rtt := monoclock.Since(e.clock, sendTime)
			resp.RTT = rtt
			resp.RTTMs = msFromDuration(rtt)
			resp.HasRTT = true
			return resp
		case icmpwire.KindTimeExceeded, icmpwire.KindDestinationUnreachable:
			resp.TTLObserved = ttl
		}
	}
}

var sessionCounter uint32

// sessionICMPID assigns each Ping call its own identifier so concurrent
// pings from the same process don't cross-match each other's replies.
func sessionICMPID() uint16 {
	return uint16(atomic.AddUint32(&sessionCounter, 1))
}

// computeStatistics aggregates RTTs across responses. Jitter is the
// population standard deviation of the received RTTs (not sample stddev):
// with a handful of probes per run, dividing by N rather than N-1 keeps the
// figure from swinging wildly for small Count values.
func computeStatistics(responses []models.PingResponse) models.PingStatistics {
	stats := models.PingStatistics{Sent: len(responses)}

	var rtts []time.Duration
	for _, r := range responses {
		if r.HasRTT {
			rtts = append(rtts, r.RTT)
		}
	}
	stats.Received = len(rtts)
	if stats.Sent > 0 {
		stats.PacketLoss = float64(stats.Sent-stats.Received) / float64(stats.Sent)
	}
	if len(rtts) == 0 {
		return stats
	}

	stats.MinRTT, stats.MaxRTT = rtts[0], rtts[0]
	var sum time.Duration
	for _, d := range rtts {
		if d < stats.MinRTT {
			stats.MinRTT = d
		}
		if d > stats.MaxRTT {
			stats.MaxRTT = d
		}
		sum += d
	}
	stats.AvgRTT = sum / time.Duration(len(rtts))

	if len(rtts) > 1 {
		mean := float64(stats.AvgRTT)
		var variance float64
		for _, d := range rtts {
			diff := float64(d) - mean
			variance += diff * diff
		}
		variance /= float64(len(rtts))
		stats.Jitter = time.Duration(math.Sqrt(variance))
		stats.HasJitter = true
	}

	stats.MinRTTMs = msFromDuration(stats.MinRTT)
	stats.AvgRTTMs = msFromDuration(stats.AvgRTT)
	stats.MaxRTTMs = msFromDuration(stats.MaxRTT)
	stats.JitterMs = msFromDuration(stats.Jitter)

	return stats
}

func msFromDuration(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
