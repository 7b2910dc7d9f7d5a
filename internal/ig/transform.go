package ig

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"igmap/internal/geo"
	"igmap/internal/model"
	"igmap/internal/probe"
)

const (
	DefaultLatencyBaseMs     = 100.0
	DefaultProbeCount        = 4
	DefaultProbeTimeout      = 5 * time.Second
	DefaultFallbackLatencyMs = 999.0
)

// Config is fixed for the lifetime of a Transform.
type Config struct {
	// LatencyBaseMs normalises the worst latency of a pair; must be > 0.
	LatencyBaseMs     float64
	FallbackLatencyMs float64
	ProbeCount        int
	ProbeTimeout      time.Duration
	// Attempts is the number of probe attempts per node per pass. 1 means
	// a single attempt followed by the fallback.
	Attempts int
	// Concurrency bounds parallel probes. 1 probes nodes one at a time.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		LatencyBaseMs:     DefaultLatencyBaseMs,
		FallbackLatencyMs: DefaultFallbackLatencyMs,
		ProbeCount:        DefaultProbeCount,
		ProbeTimeout:      DefaultProbeTimeout,
		Attempts:          1,
		Concurrency:       1,
	}
}

// Validate rejects values the distance math or the probe pass cannot use.
func (c Config) Validate() error {
	switch {
	case !(c.LatencyBaseMs > 0) || math.IsInf(c.LatencyBaseMs, 1):
		return fmt.Errorf("%w: latency_base_ms must be > 0, got %v", ErrInvalidConfiguration, c.LatencyBaseMs)
	case !(c.FallbackLatencyMs >= 0) || math.IsInf(c.FallbackLatencyMs, 1):
		return fmt.Errorf("%w: fallback_latency_ms must be >= 0, got %v", ErrInvalidConfiguration, c.FallbackLatencyMs)
	case c.ProbeCount < 1:
		return fmt.Errorf("%w: probe count must be >= 1, got %d", ErrInvalidConfiguration, c.ProbeCount)
	case c.ProbeTimeout < time.Second:
		return fmt.Errorf("%w: probe timeout must be >= 1s, got %s", ErrInvalidConfiguration, c.ProbeTimeout)
	case c.Attempts < 1:
		return fmt.Errorf("%w: probe attempts must be >= 1, got %d", ErrInvalidConfiguration, c.Attempts)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: probe concurrency must be >= 1, got %d", ErrInvalidConfiguration, c.Concurrency)
	}
	return nil
}

// Observer receives one call per probed node.
type Observer interface {
	ObserveProbe(node string, latencyMs float64, took time.Duration, fallback bool)
}

// Transform measures latency for registered nodes and computes IG
// distances between them.
type Transform struct {
	reg    *Registry
	prober probe.Prober
	cfg    Config
	log    logrus.FieldLogger
	obs    Observer

	passMu sync.Mutex
	now    func() time.Time
}

// Option configures a Transform.
type Option func(*Transform)

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Transform) {
		if l != nil {
			t.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(t *Transform) {
		t.obs = o
	}
}

// New validates cfg and returns a Transform bound to reg.
func New(reg *Registry, prober probe.Prober, cfg Config, opts ...Option) (*Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidConfiguration)
	}
	if prober == nil {
		return nil, fmt.Errorf("%w: prober is required", ErrInvalidConfiguration)
	}
	t := &Transform{
		reg:    reg,
		prober: prober,
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transform) Registry() *Registry { return t.reg }

func (t *Transform) Config() Config { return t.cfg }

// MeasureReport summarises one pass.
type MeasureReport struct {
	Probed    int
	Fallbacks int
	Skipped   int
	// Cancelled counts nodes left untouched because ctx ended mid-pass.
	Cancelled int
	Took      time.Duration
}

// MeasureAll probes every addressed node and records its latency,
// substituting the fallback latency when the probe fails. Probe failures
// are logged and counted, never returned. Registration blocks until the
// pass completes. Nodes without an address are left unmeasured. Once ctx
// is done, failed probes are not recorded and earlier readings survive.
func (t *Transform) MeasureAll(ctx context.Context) MeasureReport {
	t.passMu.Lock()
	defer t.passMu.Unlock()

	start := t.now()
	var report MeasureReport
	var mu sync.Mutex

	t.log.WithField("concurrency", t.cfg.Concurrency).Info("measuring live network latency")

	t.reg.withNodes(func(nodes []*Node) {
		var g errgroup.Group
		g.SetLimit(t.cfg.Concurrency)
		for _, n := range nodes {
			if !n.Addressed() {
				report.Skipped++
				t.log.WithField("node", n.Name).Debug("node has no address, not probed")
				continue
			}
			g.Go(func() error {
				fallback, recorded := t.measureNode(ctx, n)
				mu.Lock()
				defer mu.Unlock()
				if !recorded {
					report.Cancelled++
					return nil
				}
				report.Probed++
				if fallback {
					report.Fallbacks++
				}
				return nil
			})
		}
		_ = g.Wait()
	})

	report.Took = t.now().Sub(start)
	t.log.WithFields(logrus.Fields{
		"probed":    report.Probed,
		"fallbacks": report.Fallbacks,
		"skipped":   report.Skipped,
		"cancelled": report.Cancelled,
		"took":      report.Took,
	}).Info("latency pass complete")
	return report
}

// measureNode records a measurement for n and reports whether the
// fallback was used. recorded is false when the probe failed because ctx
// ended; n keeps its previous measurement then.
func (t *Transform) measureNode(ctx context.Context, n *Node) (fallback, recorded bool) {
	start := t.now()
	var (
		latency float64
		err     error
	)
	for attempt := 1; attempt <= t.cfg.Attempts; attempt++ {
		latency, err = t.probeOnce(ctx, n.Address)
		if err == nil || ctx.Err() != nil {
			break
		}
		if attempt < t.cfg.Attempts {
			t.log.WithFields(logrus.Fields{
				"node":    n.Name,
				"attempt": attempt,
				"error":   err,
			}).Debug("probe attempt failed")
		}
	}
	took := t.now().Sub(start)

	if err != nil && ctx.Err() != nil {
		t.log.WithFields(logrus.Fields{
			"node":  n.Name,
			"error": err,
		}).Debug("pass cancelled, keeping previous reading")
		return false, false
	}

	m := Measurement{LatencyMs: latency, MeasuredAt: t.now()}
	if err != nil {
		m = Measurement{
			LatencyMs:  t.cfg.FallbackLatencyMs,
			Fallback:   true,
			Err:        err.Error(),
			MeasuredAt: m.MeasuredAt,
		}
		t.log.WithFields(logrus.Fields{
			"node":        n.Name,
			"address":     n.Address,
			"error":       err,
			"fallback_ms": t.cfg.FallbackLatencyMs,
		}).Warn("latency probe failed, using fallback")
	} else {
		t.log.WithFields(logrus.Fields{
			"node":       n.Name,
			"address":    n.Address,
			"latency_ms": latency,
		}).Info("measured latency")
	}
	n.record(m)

	if t.obs != nil {
		t.obs.ObserveProbe(n.Name, m.LatencyMs, took, m.Fallback)
	}
	return m.Fallback, true
}

func (t *Transform) probeOnce(ctx context.Context, address string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	ms, err := t.prober.Measure(ctx, address, t.cfg.ProbeCount, t.cfg.ProbeTimeout)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return 0, fmt.Errorf("probe returned invalid latency %v", ms)
	}
	return ms, nil
}

// IGDistance computes the IG result between two registered nodes.
// Argument order does not affect the result.
func (t *Transform) IGDistance(nameA, nameB string) (model.IGResult, error) {
	a, err := t.reg.Lookup(nameA)
	if err != nil {
		return model.IGResult{}, err
	}
	b, err := t.reg.Lookup(nameB)
	if err != nil {
		return model.IGResult{}, err
	}
	return t.Compute(a, b)
}

// Compute is IGDistance over node handles. An addressed node that has
// never been measured yields ErrLatencyNotMeasured.
func (t *Transform) Compute(a, b *Node) (model.IGResult, error) {
	latA, err := t.latencyFor(a)
	if err != nil {
		return model.IGResult{}, err
	}
	latB, err := t.latencyFor(b)
	if err != nil {
		return model.IGResult{}, err
	}

	physical := geo.Distance(a.Coordinate, b.Coordinate)
	return ComputeIG(physical, math.Max(latA, latB), t.cfg.LatencyBaseMs), nil
}

// latencyFor returns the latency a node contributes to a pair query.
// Unaddressed nodes contribute the fallback without being modified.
func (t *Transform) latencyFor(n *Node) (float64, error) {
	if !n.Addressed() {
		return t.cfg.FallbackLatencyMs, nil
	}
	m, ok := n.Measurement()
	if !ok {
		return 0, fmt.Errorf("%w: node %q has no latency reading, run MeasureAll first", ErrLatencyNotMeasured, n.Name)
	}
	return m.LatencyMs, nil
}

// ComputeIG applies factor = 1 + worst/base and ig = physical * factor.
func ComputeIG(physicalKm, worstLatencyMs, latencyBaseMs float64) model.IGResult {
	factor := 1.0 + worstLatencyMs/latencyBaseMs
	return model.IGResult{
		PhysicalKm:     physicalKm,
		WorstLatencyMs: worstLatencyMs,
		IGDistanceKm:   physicalKm * factor,
		IGFactor:       factor,
	}
}
