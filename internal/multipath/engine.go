// Package multipath discovers the distinct ECMP paths a destination is
// reachable through by running multiple Paris/Dublin-style traceroutes, each
// with a different flow identifier, and deduplicating the resulting traces.
package multipath

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/draymonix/pathlens/internal/classify"
	"github.com/draymonix/pathlens/internal/diagerr"
	"github.com/draymonix/pathlens/internal/traceroute"
	"github.com/draymonix/pathlens/internal/wifi"
	"github.com/draymonix/pathlens/pkg/models"
)

// batchSize bounds how many trace attempts run concurrently: enough to
// surface ECMP fan-out quickly without flooding a path with probes that
// would all land on a shared bottleneck link at once.
const batchSize = 5

// Options configures a multipath discovery run.
type Options struct {
	traceroute.Options
	// Attempts is the number of distinct flow identifiers to try, run in
	// batches of 5. Defaults to 20.
	Attempts int
	// MaxPaths stops discovery once this many unique paths have been found.
	MaxPaths int
	// EarlyStopThreshold is the length of the sliding window of recent
	// attempts examined for early termination: once that many attempts in a
	// row produced no new unique path, discovery stops early.
	EarlyStopThreshold int
	// ClientASN/ClientASName identify the caller's own public-IP ASN, used
	// the same way TraceClassified uses them: to tell "our ISP" apart from
	// transit networks when classifying each discovered path.
	ClientASN    uint32
	ClientASName string
	// VPN carries the caller's VPNContext for classifying paths that left
	// through a tunnel.
	VPN classify.VPNContext
	// SkipPreflight disables the pro-bing reachability check that would
	// otherwise short-circuit discovery against a dead destination.
	SkipPreflight bool
}

const (
	DefaultAttempts           = 20
	DefaultMaxPaths           = 8
	DefaultEarlyStopThreshold = 5
)

func (o Options) withDefaults() Options {
	if o.Attempts == 0 {
		o.Attempts = DefaultAttempts
	}
	if o.MaxPaths == 0 {
		o.MaxPaths = DefaultMaxPaths
	}
	if o.EarlyStopThreshold == 0 {
		o.EarlyStopThreshold = DefaultEarlyStopThreshold
	}
	o.Options = o.Options.WithDefaults()
	return o
}

// Engine discovers multiple paths to a destination.
type Engine struct {
	tracer       *traceroute.Engine
	logger       *zap.Logger
	classifier   *classify.Classifier
	wifiEnricher wifi.Enricher
}

func New(tracer *traceroute.Engine, logger *zap.Logger, classifier *classify.Classifier) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{tracer: tracer, logger: logger, classifier: classifier, wifiEnricher: wifi.NewEnricher()}
}

// attemptResult is one completed trace from a discovery batch, or a failed
// attempt (ok == false) that contributes nothing to the result set.
type attemptResult struct {
	flowID models.FlowIdentifier
	trace  models.TraceResult
	ok     bool
}

// Discover runs Attempts traceroutes, each carrying a distinct flow
// identifier, and returns the deduplicated set of paths found.
func (e *Engine) Discover(ctx context.Context, dest net.IP, opts Options) (models.NetworkTopology, error) {
	opts = opts.withDefaults()

	if !opts.SkipPreflight {
		if err := e.preflight(ctx, dest); err != nil {
			return models.NetworkTopology{}, err
		}
	}

	start := time.Now()

	var destASN uint32
	var destASName string
	if e.classifier != nil {
		if info, err := e.classifier.ResolveASN(ctx, dest.String()); err == nil {
			destASN, destASName = info.ASN, info.Name
		}
	}
	baseInput := classify.Input{
		ClientASN:    opts.ClientASN,
		ClientASName: opts.ClientASName,
		DestASN:      destASN,
		DestASName:   destASName,
		VPN:          opts.VPN,
	}

	set := newDiscoverySet(e.classifier)
	window := make([]bool, 0, opts.EarlyStopThreshold)
	stop := false

	for batchStart := 0; batchStart < opts.Attempts && !stop; batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > opts.Attempts {
			batchEnd = opts.Attempts
		}

		results, err := e.runBatch(ctx, dest, opts, batchStart, batchEnd)
		if err != nil {
			return models.NetworkTopology{}, err
		}

		for _, r := range results {
			if !r.ok {
				continue
			}

			isNewUnique := set.add(ctx, r.flowID, r.trace, baseInput)
			window = append(window, isNewUnique)
			if len(window) > opts.EarlyStopThreshold {
				window = window[1:]
			}

			if set.uniqueCount() >= opts.MaxPaths {
				stop = true
				break
			}
			if len(window) == opts.EarlyStopThreshold && !anyTrue(window) {
				stop = true
				break
			}
		}

		if ctx.Err() != nil {
			stop = true
		}
	}

	topology := models.NetworkTopology{
		Destination:       dest.String(),
		DestinationIP:     dest.String(),
		SourceInterface:   wifi.Label(e.wifiEnricher, opts.Interface),
		Paths:             set.all,
		UniquePathCount:   set.uniqueCount(),
		DiscoveryDuration: time.Since(start),
	}
	return topology, nil
}

// runBatch fires off batchEnd-batchStart concurrent traceroutes, each
// carrying its own flow-identifier variation, and collects whichever
// complete before the group's context is cancelled.
func (e *Engine) runBatch(ctx context.Context, dest net.IP, opts Options, batchStart, batchEnd int) ([]attemptResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]attemptResult, batchEnd-batchStart)
	for i := batchStart; i < batchEnd; i++ {
		i := i
		idx := i - batchStart
		g.Go(func() error {
			variation := uint32(i + 1)
			flowID := models.GenerateFlowIdentifier(opts.FlowID.ICMPID, variation)
			traceOpts := opts.Options
			traceOpts.FlowID = flowID

			trace, err := e.tracer.Trace(gctx, dest, traceOpts)
			if err != nil {
				e.logger.Debug("multipath: attempt failed", zap.Uint32("variation", variation), zap.Error(err))
				return nil // a single failed attempt doesn't abort the batch
			}
			results[idx] = attemptResult{flowID: flowID, trace: trace, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, diagerr.New(diagerr.Cancelled, err)
	}
	return results, nil
}

func anyTrue(bs []bool) bool {
	for _, b := range bs {
		if b {
			return true
		}
	}
	return false
}

// preflight runs a fast pro-bing reachability check before committing to a
// full batched discovery run, so an unreachable destination fails fast
// instead of burning Attempts traceroutes that will all time out.
func (e *Engine) preflight(ctx context.Context, dest net.IP) error {
	pinger, err := probing.NewPinger(dest.String())
	if err != nil {
		return diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("multipath: create preflight pinger: %w", err))
	}
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case <-ctx.Done():
		return diagerr.New(diagerr.Cancelled, ctx.Err())
	case err := <-done:
		if err != nil {
			return diagerr.New(diagerr.SendFailed, fmt.Errorf("multipath: preflight ping: %w", err))
		}
	}

	if pinger.Statistics().PacketsRecv == 0 {
		return diagerr.New(diagerr.SendFailed, fmt.Errorf("multipath: preflight found %s unreachable", dest))
	}
	return nil
}

// fingerprint derives a stable identity for a trace's path: the sequence of
// hop IPs it recorded (timeouts included as empty slots, so two traces that
// differ only in where they happened to time out still compare distinct).
func fingerprint(trace models.TraceResult) string {
	s := ""
	for _, h := range trace.Hops {
		s += fmt.Sprintf("%d:%s|", h.TTL, h.IP)
	}
	return s
}

// pathsMatch reports whether a and b traverse the same hop sequence,
// treating a timeout (empty IP) at a position as compatible with whatever
// the other trace recorded there.
func pathsMatch(a, b models.TraceResult) bool {
	if len(a.Hops) != len(b.Hops) {
		return false
	}
	for i := range a.Hops {
		if a.Hops[i].IP == "" || b.Hops[i].IP == "" {
			continue
		}
		if a.Hops[i].IP != b.Hops[i].IP {
			return false
		}
	}
	return true
}

// mergeHops fills canonical's timed-out positions with next's IP/RTT data,
// so an intermittently non-responding hop doesn't keep a path's fingerprint
// perpetually incomplete once any attempt manages to get a reply from it.
func mergeHops(canonical, next models.TraceResult) models.TraceResult {
	merged := canonical
	merged.Hops = make([]models.Hop, len(canonical.Hops))
	for i := range canonical.Hops {
		if canonical.Hops[i].IP != "" {
			merged.Hops[i] = canonical.Hops[i]
			continue
		}
		merged.Hops[i] = next.Hops[i]
	}
	merged.Reached = canonical.Reached || next.Reached
	return merged
}

// discoverySet accumulates DiscoveredPaths across a run. Every trace is
// recorded; a trace matching an existing canonical (unique) path is merged
// into it (filling any of its timed-out positions) and recorded again as a
// duplicate with IsUnique=false, rather than being discarded.
type discoverySet struct {
	classifier   *classify.Classifier
	all          []models.DiscoveredPath
	canonicalIdx []int
}

func newDiscoverySet(classifier *classify.Classifier) *discoverySet {
	return &discoverySet{classifier: classifier}
}

func (s *discoverySet) uniqueCount() int { return len(s.canonicalIdx) }

// add classifies trace and files it either as a merge into an existing
// canonical path or as a new one, reporting whether it was new -- the
// signal the sliding-window early-stop check needs.
func (s *discoverySet) add(ctx context.Context, flowID models.FlowIdentifier, trace models.TraceResult, in classify.Input) bool {
	for _, idx := range s.canonicalIdx {
		canonical := &s.all[idx]
		if !pathsMatch(canonical.Trace.TraceResult, trace) {
			continue
		}

		merged := mergeHops(canonical.Trace.TraceResult, trace)
		mergedInput := in
		mergedInput.Trace = merged
		canonical.Trace = s.classify(ctx, mergedInput)
		canonical.Fingerprint = fingerprint(merged)

		dupInput := in
		dupInput.Trace = trace
		s.all = append(s.all, models.DiscoveredPath{
			FlowID:      flowID,
			Trace:       s.classify(ctx, dupInput),
			Fingerprint: fingerprint(trace),
			IsUnique:    false,
		})
		return false
	}

	newInput := in
	newInput.Trace = trace
	s.all = append(s.all, models.DiscoveredPath{
		FlowID:      flowID,
		Trace:       s.classify(ctx, newInput),
		Fingerprint: fingerprint(trace),
		IsUnique:    true,
	})
	s.canonicalIdx = append(s.canonicalIdx, len(s.all)-1)
	return true
}

func (s *discoverySet) classify(ctx context.Context, in classify.Input) models.ClassifiedTrace {
	if s.classifier == nil {
		return models.ClassifiedTrace{TraceResult: in.Trace}
	}
	return s.classifier.Classify(ctx, in)
}

// DivergencePoint returns the TTL at which a and b's hop sequences first
// differ, or -1 if one is a prefix of the other or they're identical.
func DivergencePoint(a, b models.TraceResult) int {
	n := len(a.Hops)
	if len(b.Hops) < n {
		n = len(b.Hops)
	}
	for i := 0; i < n; i++ {
		if a.Hops[i].IP != b.Hops[i].IP {
			return int(a.Hops[i].TTL)
		}
	}
	return -1
}

// CommonPrefix returns the hops a and b share before their first divergence.
func CommonPrefix(a, b models.TraceResult) []models.Hop {
	n := len(a.Hops)
	if len(b.Hops) < n {
		n = len(b.Hops)
	}
	prefix := make([]models.Hop, 0, n)
	for i := 0; i < n; i++ {
		if a.Hops[i].IP != b.Hops[i].IP {
			break
		}
		prefix = append(prefix, a.Hops[i])
	}
	return prefix
}

// UniqueHops returns the hops in trace whose IP doesn't appear in any of
// others at the same TTL, i.e. the hops that make this path distinct.
func UniqueHops(trace models.TraceResult, others ...models.TraceResult) []models.Hop {
	var unique []models.Hop
	for _, h := range trace.Hops {
		shared := false
		for _, other := range others {
			for _, oh := range other.Hops {
				if oh.TTL == h.TTL && oh.IP == h.IP && h.IP != "" {
					shared = true
					break
				}
			}
			if shared {
				break
			}
		}
		if !shared {
			unique = append(unique, h)
		}
	}
	return unique
}

// PathsThrough returns every discovered path that visits hopIP at any TTL.
func PathsThrough(paths []models.DiscoveredPath, hopIP string) []models.DiscoveredPath {
	var matches []models.DiscoveredPath
	for _, p := range paths {
		for _, h := range p.Trace.TraceResult.Hops {
			if h.IP == hopIP {
				matches = append(matches, p)
				break
			}
		}
	}
	return matches
}
