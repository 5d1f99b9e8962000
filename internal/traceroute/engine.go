// Package traceroute implements the TTL-sweep ICMP traceroute engine: burst
// an Echo Request at every TTL from 1 up to max_hops, then await whichever
// router along the path first let each one's TTL expire, correlating each
// reply back to its probe by the echoed sequence number (the TTL itself).
package traceroute

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draymonix/pathlens/internal/diagerr"
	"github.com/draymonix/pathlens/internal/icmpsock"
	"github.com/draymonix/pathlens/internal/icmpwire"
	"github.com/draymonix/pathlens/internal/monoclock"
	"github.com/draymonix/pathlens/pkg/models"
)

const (
	DefaultMaxHops      = 30
	DefaultMaxWaitMs    = 1000
	DefaultPayloadSize  = 56
	DefaultRetryAfterMs = 500
)

// Options configures a single trace run. Zero values fall back to the
// package defaults above.
type Options struct {
	MaxHops     uint8
	MaxWaitMs   int
	PayloadSize int
	// RetryAfterMs is only consulted by TraceStream: how long to wait after
	// the initial burst before re-probing any TTL that hadn't resolved by
	// then (at or below the TTL the destination was reached at, if any).
	RetryAfterMs int
	Interface    string
	SourceIP     net.IP
	FlowID       models.FlowIdentifier
}

func (o Options) WithDefaults() Options {
	if o.MaxHops == 0 {
		o.MaxHops = DefaultMaxHops
	}
	if o.MaxWaitMs == 0 {
		o.MaxWaitMs = DefaultMaxWaitMs
	}
	if o.PayloadSize == 0 {
		o.PayloadSize = DefaultPayloadSize
	}
	if o.RetryAfterMs == 0 {
		o.RetryAfterMs = DefaultRetryAfterMs
	}
	return o
}

// Engine runs ICMP traceroutes.
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

// Trace bursts a full TTL sweep against dest and returns the assembled
// result once every hop has either answered or timed out.
func (e *Engine) Trace(ctx context.Context, dest net.IP, opts Options) (models.TraceResult, error) {
	opts = opts.WithDefaults()

	hops := make(chan models.Hop)
	errc := make(chan error, 1)
	go func() {
		defer close(hops)
		errc <- e.run(ctx, dest, opts, hops)
	}()

	start := e.clock.Now()
	result := models.TraceResult{
		Destination: dest.String(),
		MaxHops:     opts.MaxHops,
		Hops:        make([]models.Hop, 0, opts.MaxHops),
	}
	for hop := range hops {
		result.Hops = append(result.Hops, hop)
		if hop.ReachedDestination {
			result.Reached = true
		}
	}
	result.Duration = monoclock.Since(e.clock, start)
	result.DurationMs = float64(result.Duration.Microseconds()) / 1000.0

	if err := <-errc; err != nil {
		return result, err
	}
	return result, nil
}

// TraceStream runs the same sweep but emits each Hop on the returned channel
// as soon as it's known, for callers (e.g. the websocket handler) that want
// to render hops incrementally. Unlike Trace, it also retries any TTL that
// hadn't resolved by the end of the first burst, once, after RetryAfterMs --
// a single dropped probe shouldn't leave a hole in the path when a second
// attempt would likely have resolved it.
func (e *Engine) TraceStream(ctx context.Context, dest net.IP, opts Options) (<-chan models.Hop, <-chan error) {
	opts = opts.WithDefaults()
	hops := make(chan models.Hop)
	errc := make(chan error, 1)
	go func() {
		defer close(hops)
		errc <- e.runStream(ctx, dest, opts, hops)
	}()
	return hops, errc
}

func (e *Engine) run(ctx context.Context, dest net.IP, opts Options, out chan<- models.Hop) error {
	dest = dest.To4()
	if dest == nil {
		return diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("destination must be ipv4"))
	}

	sock, err := icmpsock.Open(opts.Interface, opts.SourceIP)
	if err != nil {
		return err
	}
	defer sock.Close()

	icmpID := opts.FlowID.ICMPID
	if icmpID == 0 {
		icmpID = defaultICMPID()
	}
	demux := icmpsock.NewDemux(sock, icmpID)
	defer demux.Close()

	timeout := time.Duration(opts.MaxWaitMs) * time.Millisecond
	payload := make([]byte, opts.PayloadSize)
	ttls := ttlRange(opts.MaxHops)

	results, err := e.burst(ctx, sock, demux, dest, icmpID, payload, ttls, timeout)
	if err != nil {
		return err
	}

	return e.emit(ctx, out, ttls, results, reachedAt(ttls, results))
}

func (e *Engine) runStream(ctx context.Context, dest net.IP, opts Options, out chan<- models.Hop) error {
	dest = dest.To4()
	if dest == nil {
		return diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("destination must be ipv4"))
	}

	sock, err := icmpsock.Open(opts.Interface, opts.SourceIP)
	if err != nil {
		return err
	}
	defer sock.Close()

	icmpID := opts.FlowID.ICMPID
	if icmpID == 0 {
		icmpID = defaultICMPID()
	}
	demux := icmpsock.NewDemux(sock, icmpID)
	defer demux.Close()

	timeout := time.Duration(opts.MaxWaitMs) * time.Millisecond
	payload := make([]byte, opts.PayloadSize)
	ttls := ttlRange(opts.MaxHops)

	results, err := e.burst(ctx, sock, demux, dest, icmpID, payload, ttls, timeout)
	if err != nil {
		return err
	}

	reached := reachedAt(ttls, results)
	unresolved := unresolvedTTLs(ttls, results, reached)
	if len(unresolved) > 0 {
		select {
		case <-time.After(time.Duration(opts.RetryAfterMs) * time.Millisecond):
		case <-ctx.Done():
			return e.emit(ctx, out, ttls, results, reached)
		}

		retried, err := e.burst(ctx, sock, demux, dest, icmpID, payload, unresolved, timeout)
		if err == nil {
			for ttl, hop := range retried {
				if !hop.Timeout {
					results[ttl] = hop
				}
			}
			reached = reachedAt(ttls, results)
		}
	}

	return e.emit(ctx, out, ttls, results, reached)
}

// burst sends an Echo Request at every ttl in ttls (sequentially, since
// SetTTL mutates a socket-wide option that must take effect before each
// Send), then awaits all of their replies concurrently, each correlated
// back to its own probe by the echoed sequence number equal to its TTL.
func (e *Engine) burst(ctx context.Context, sock icmpsock.Socket, demux *icmpsock.Demux, dest net.IP, icmpID uint16, payload []byte, ttls []int, timeout time.Duration) (map[int]models.Hop, error) {
	sendTimes := make(map[int]time.Time, len(ttls))
	for _, ttl := range ttls {
		select {
		case <-ctx.Done():
			return nil, diagerr.New(diagerr.Cancelled, ctx.Err())
		default:
		}

		if err := sock.SetTTL(ttl); err != nil {
			e.logger.Debug("traceroute: set ttl failed", zap.Int("ttl", ttl), zap.Error(err))
			continue
		}

		wire, err := icmpwire.Build(icmpwire.EchoRequest{ID: icmpID, Seq: uint16(ttl), Payload: payload})
		if err != nil {
			continue
		}

		sendTime := e.clock.Now()
		if err := sock.Send(wire, dest); err != nil {
			e.logger.Debug("traceroute: send failed", zap.Int("ttl", ttl), zap.Error(err))
			continue
		}
		sendTimes[ttl] = sendTime
	}

	results := make(map[int]models.Hop, len(sendTimes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for ttl, sendTime := range sendTimes {
		ttl, sendTime := ttl, sendTime
		wg.Add(1)
		go func() {
			defer wg.Done()
			hop := e.awaitHop(ctx, demux, ttl, sendTime, timeout)
			mu.Lock()
			results[ttl] = hop
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results, nil
}

// awaitHop waits for the reply to the probe sent at ttl, accepting either a
// Time Exceeded (an intermediate router) or an Echo Reply/Destination
// Unreachable (the destination itself answered).
func (e *Engine) awaitHop(ctx context.Context, demux *icmpsock.Demux, ttl int, sendTime time.Time, timeout time.Duration) models.Hop {
	hop := models.Hop{TTL: uint8(ttl)}

	deadline := sendTime.Add(timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(deadline) {
		deadline = ctxDL
	}

	for {
		delivery, err := demux.Await(ctx, uint16(ttl), deadline)
		if err != nil {
			hop.Timeout = true
			return hop
		}

		rtt := monoclock.Since(e.clock, sendTime)
		switch delivery.Reply.Kind {
		case icmpwire.KindEchoReply, icmpwire.KindDestinationUnreachable:
			hop.IP = delivery.Peer.String()
			hop.RTT = rtt
			hop.RTTMs = msFromDuration(rtt)
			hop.ReachedDestination = true
			return hop
		case icmpwire.KindTimeExceeded:
			hop.IP = delivery.Peer.String()
			hop.RTT = rtt
			hop.RTTMs = msFromDuration(rtt)
			return hop
		default:
			continue
		}
	}
}

// emit sends each TTL's hop (or a synthesized timeout placeholder, if the
// burst never produced one) to out in TTL order, stopping once reachedTTL is
// emitted -- any probes sent past that point answered a question the trace
// no longer needs asked.
func (e *Engine) emit(ctx context.Context, out chan<- models.Hop, ttls []int, results map[int]models.Hop, reachedTTL int) error {
	for _, ttl := range ttls {
		if reachedTTL != 0 && ttl > reachedTTL {
			break
		}

		hop, ok := results[ttl]
		if !ok {
			hop = models.Hop{TTL: uint8(ttl), Timeout: true}
		}

		select {
		case out <- hop:
		case <-ctx.Done():
			return diagerr.New(diagerr.Cancelled, ctx.Err())
		}
	}
	return nil
}

func ttlRange(maxHops uint8) []int {
	ttls := make([]int, maxHops)
	for i := range ttls {
		ttls[i] = i + 1
	}
	return ttls
}

// reachedAt returns the smallest TTL whose hop reached the destination, or 0
// if none did.
func reachedAt(ttls []int, results map[int]models.Hop) int {
	for _, ttl := range ttls {
		if hop, ok := results[ttl]; ok && hop.ReachedDestination {
			return ttl
		}
	}
	return 0
}

// unresolvedTTLs returns the TTLs at or below reachedTTL (or every TTL, if
// the destination hasn't been reached yet) whose probe timed out or was
// never sent.
func unresolvedTTLs(ttls []int, results map[int]models.Hop, reachedTTL int) []int {
	var unresolved []int
	for _, ttl := range ttls {
		if reachedTTL != 0 && ttl > reachedTTL {
			break
		}
		hop, ok := results[ttl]
		if !ok || hop.Timeout {
			unresolved = append(unresolved, ttl)
		}
	}
	return unresolved
}

func msFromDuration(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

var pidOnce sync.Once
var pidICMPID uint16

// defaultICMPID derives a stable per-process ICMP identifier when no
// FlowIdentifier is supplied by the caller, so concurrent traces from
// unrelated processes on the same host don't collide on the wire.
func defaultICMPID() uint16 {
	pidOnce.Do(func() {
		pidICMPID = uint16(os.Getpid() & 0xffff)
	})
	return pidICMPID
}
