package ig

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igmap/internal/geo"
	"igmap/internal/probe"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func staticProber(latencies map[string]float64) probe.Prober {
	return probe.Func(func(_ context.Context, addr string, _ int, _ time.Duration) (float64, error) {
		ms, ok := latencies[addr]
		if !ok {
			return 0, errors.New("host unreachable")
		}
		return ms, nil
	})
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]bool
}

func (o *recordingObserver) ObserveProbe(node string, _ float64, _ time.Duration, fallback bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string]bool{}
	}
	o.calls[node] = fallback
}

func newTransform(t *testing.T, p probe.Prober, mutate func(*Config), opts ...Option) *Transform {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	tr, err := New(NewRegistry(WithRegistryLogger(quietLogger())), p, cfg, opts...)
	require.NoError(t, err)
	return tr
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	bad := []func(*Config){
		func(c *Config) { c.LatencyBaseMs = 0 },
		func(c *Config) { c.LatencyBaseMs = -5 },
		func(c *Config) { c.FallbackLatencyMs = -1 },
		func(c *Config) { c.ProbeCount = 0 },
		func(c *Config) { c.ProbeTimeout = 500 * time.Millisecond },
		func(c *Config) { c.Attempts = 0 },
		func(c *Config) { c.Concurrency = 0 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration, "case %d", i)
	}
}

func TestNew_RejectsZeroLatencyBase(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.LatencyBaseMs = 0
	_, err := New(NewRegistry(), staticProber(nil), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = New(NewRegistry(), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	_, err = New(nil, staticProber(nil), DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestComputeIG_KnownValues(t *testing.T) {
	t.Parallel()

	r := ComputeIG(1000, 100, 100)
	assert.Equal(t, 2.0, r.IGFactor)
	assert.Equal(t, 2000.0, r.IGDistanceKm)
	assert.Equal(t, 1000.0, r.PhysicalKm)
	assert.Equal(t, 100.0, r.WorstLatencyMs)

	r = ComputeIG(1234.5, 0, 100)
	assert.Equal(t, 1.0, r.IGFactor)
	assert.Equal(t, 1234.5, r.IGDistanceKm)
}

func TestComputeIG_Properties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		physical := rng.Float64() * 20000
		worst := rng.Float64() * 2000
		base := 0.1 + rng.Float64()*500

		r := ComputeIG(physical, worst, base)
		assert.InDelta(t, 1+worst/base, r.IGFactor, 1e-12)
		assert.GreaterOrEqual(t, r.IGFactor, 1.0)
		assert.InDelta(t, physical*r.IGFactor, r.IGDistanceKm, 1e-9)
		assert.GreaterOrEqual(t, r.IGDistanceKm, r.PhysicalKm)
	}
}

func TestIGDistance_BeforeMeasureAll(t *testing.T) {
	t.Parallel()

	tr := newTransform(t, staticProber(map[string]float64{"1.1.1.1": 10, "8.8.8.8": 20}), nil)
	reg := tr.Registry()
	_, err := reg.Register("a", 37.7749, -122.4194, 1, WithAddress("1.1.1.1"))
	require.NoError(t, err)
	_, err = reg.Register("b", 40.7128, -74.0060, 2, WithAddress("8.8.8.8"))
	require.NoError(t, err)

	_, err = tr.IGDistance("a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLatencyNotMeasured)
	assert.Contains(t, err.Error(), "MeasureAll")
}

func TestIGDistance_AfterMeasureAll(t *testing.T) {
	t.Parallel()

	tr := newTransform(t, staticProber(map[string]float64{"1.1.1.1": 10, "8.8.8.8": 50}), nil)
	reg := tr.Registry()
	_, err := reg.Register("sf", 37.7749, -122.4194, 1, WithAddress("1.1.1.1"))
	require.NoError(t, err)
	_, err = reg.Register("nyc", 40.7128, -74.0060, 2, WithAddress("8.8.8.8"))
	require.NoError(t, err)

	report := tr.MeasureAll(context.Background())
	assert.Equal(t, 2, report.Probed)
	assert.Equal(t, 0, report.Fallbacks)

	r, err := tr.IGDistance("sf", "nyc")
	require.NoError(t, err)
	assert.InDelta(t, 4129, r.PhysicalKm, 20)
	assert.Equal(t, 50.0, r.WorstLatencyMs)
	assert.Equal(t, 1.5, r.IGFactor)
	assert.InDelta(t, r.PhysicalKm*1.5, r.IGDistanceKm, 1e-9)

	swapped, err := tr.IGDistance("nyc", "sf")
	require.NoError(t, err)
	assert.Equal(t, r, swapped)
}

func TestMeasureAll_FailingProbeUsesFallback(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	tr := newTransform(t, staticProber(map[string]float64{"1.1.1.1": 10}), func(c *Config) {
		c.FallbackLatencyMs = 999
	}, WithObserver(obs))
	reg := tr.Registry()
	_, err := reg.Register("ok", 0, 0, 0, WithAddress("1.1.1.1"))
	require.NoError(t, err)
	blocked, err := reg.Register("blocked", 10, 10, 0, WithAddress("198.51.100.1"))
	require.NoError(t, err)

	report := tr.MeasureAll(context.Background())
	assert.Equal(t, 2, report.Probed)
	assert.Equal(t, 1, report.Fallbacks)

	require.NotNil(t, blocked.MeasuredLatencyMs())
	assert.Equal(t, 999.0, *blocked.MeasuredLatencyMs())
	m, ok := blocked.Measurement()
	require.True(t, ok)
	assert.True(t, m.Fallback)
	assert.Contains(t, m.Err, "unreachable")

	r, err := tr.IGDistance("ok", "blocked")
	require.NoError(t, err)
	assert.Equal(t, 999.0, r.WorstLatencyMs)

	assert.Equal(t, map[string]bool{"ok": false, "blocked": true}, obs.calls)
}

func TestMeasureAll_RejectsNegativeLatency(t *testing.T) {
	t.Parallel()

	tr := newTransform(t, staticProber(map[string]float64{"1.1.1.1": -3}), nil)
	n, err := tr.Registry().Register("a", 0, 0, 0, WithAddress("1.1.1.1"))
	require.NoError(t, err)

	tr.MeasureAll(context.Background())
	m, _ := n.Measurement()
	assert.True(t, m.Fallback)
	assert.Equal(t, DefaultFallbackLatencyMs, m.LatencyMs)
}

func TestMeasureAll_UnaddressedNodeUsesFallbackWithoutMutation(t *testing.T) {
	t.Parallel()

	tr := newTransform(t, staticProber(map[string]float64{"1.1.1.1": 10}), func(c *Config) {
		c.FallbackLatencyMs = 250
	})
	reg := tr.Registry()
	local, err := reg.Register("local", 0, 0, 0)
	require.NoError(t, err)
	_, err = reg.Register("remote", 0, 1, 0, WithAddress("1.1.1.1"))
	require.NoError(t, err)

	// No address means no measurement is needed for a pair query.
	r, err := tr.IGDistance("local", "remote")
	require.ErrorIs(t, err, ErrLatencyNotMeasured, "remote is addressed and unmeasured")

	report := tr.MeasureAll(context.Background())
	assert.Equal(t, 1, report.Skipped)

	r, err = tr.IGDistance("local", "remote")
	require.NoError(t, err)
	assert.Equal(t, 250.0, r.WorstLatencyMs)
	assert.Nil(t, local.MeasuredLatencyMs())
}

func TestMeasureAll_ZeroLatencyMeansNoResistance(t *testing.T) {
	t.Parallel()

	tr := newTransform(t, staticProber(map[string]float64{"a": 0, "b": 0}), nil)
	reg := tr.Registry()
	_, err := reg.Register("a", 10, 10, 0, WithAddress("a"))
	require.NoError(t, err)
	_, err = reg.Register("b", 20, 20, 0, WithAddress("b"))
	require.NoError(t, err)
	tr.MeasureAll(context.Background())

	r, err := tr.IGDistance("a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.IGFactor)
	assert.Equal(t, r.PhysicalKm, r.IGDistanceKm)
}

func TestMeasureAll_RerunOverwrites(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := probe.Func(func(context.Context, string, int, time.Duration) (float64, error) {
		return float64(10 * calls.Add(1)), nil
	})
	tr := newTransform(t, p, nil)
	n, err := tr.Registry().Register("a", 0, 0, 0, WithAddress("x"))
	require.NoError(t, err)

	tr.MeasureAll(context.Background())
	assert.Equal(t, 10.0, *n.MeasuredLatencyMs())
	tr.MeasureAll(context.Background())
	assert.Equal(t, 20.0, *n.MeasuredLatencyMs())
}

func TestReRegister_RequiresFreshMeasureAll(t *testing.T) {
	t.Parallel()

	tr := newTransform(t, staticProber(map[string]float64{"1.1.1.1": 10, "8.8.8.8": 20}), nil)
	reg := tr.Registry()
	_, err := reg.Register("a", 0, 0, 0, WithAddress("1.1.1.1"))
	require.NoError(t, err)
	_, err = reg.Register("b", 1, 1, 0, WithAddress("8.8.8.8"))
	require.NoError(t, err)
	tr.MeasureAll(context.Background())

	_, err = tr.IGDistance("a", "b")
	require.NoError(t, err)

	replaced, err := reg.Register("b", 2, 2, 0, WithAddress("8.8.8.8"))
	require.NoError(t, err)
	assert.Nil(t, replaced.MeasuredLatencyMs())

	_, err = tr.IGDistance("a", "b")
	assert.ErrorIs(t, err, ErrLatencyNotMeasured)

	tr.MeasureAll(context.Background())
	r, err := tr.IGDistance("a", "b")
	require.NoError(t, err)
	assert.InDelta(t, geo.Haversine(0, 0, 2, 2), r.PhysicalKm, 1e-9)
}

func TestIGDistance_UnknownNode(t *testing.T) {
	t.Parallel()

	tr := newTransform(t, staticProber(nil), nil)
	_, err := tr.Registry().Register("a", 0, 0, 0)
	require.NoError(t, err)

	_, err = tr.IGDistance("a", "ghost")
	var une *UnknownNodeError
	require.True(t, errors.As(err, &une))
	assert.Equal(t, "ghost", une.Name)
}

func TestMeasureAll_Attempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	flaky := probe.Func(func(context.Context, string, int, time.Duration) (float64, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("request timed out")
		}
		return 33, nil
	})

	tr := newTransform(t, flaky, func(c *Config) { c.Attempts = 2 })
	n, err := tr.Registry().Register("a", 0, 0, 0, WithAddress("x"))
	require.NoError(t, err)

	report := tr.MeasureAll(context.Background())
	assert.Equal(t, 0, report.Fallbacks)
	assert.Equal(t, 33.0, *n.MeasuredLatencyMs())
	assert.Equal(t, int32(2), calls.Load())
}

func TestMeasureAll_ProbeHonoursTimeout(t *testing.T) {
	t.Parallel()

	hang := probe.Func(func(ctx context.Context, _ string, _ int, _ time.Duration) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	tr := newTransform(t, hang, func(c *Config) { c.ProbeTimeout = time.Second })
	n, err := tr.Registry().Register("a", 0, 0, 0, WithAddress("x"))
	require.NoError(t, err)

	start := time.Now()
	tr.MeasureAll(context.Background())
	assert.Less(t, time.Since(start), 3*time.Second)

	m, ok := n.Measurement()
	require.True(t, ok)
	assert.True(t, m.Fallback)
}

func TestMeasureAll_Concurrent(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	slow := probe.Func(func(context.Context, string, int, time.Duration) (float64, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return 5, nil
	})

	tr := newTransform(t, slow, func(c *Config) { c.Concurrency = 4 })
	reg := tr.Registry()
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		_, err := reg.Register(name, float64(i), float64(i), 0, WithAddress(name))
		require.NoError(t, err)
	}

	report := tr.MeasureAll(context.Background())
	assert.Equal(t, 8, report.Probed)
	assert.LessOrEqual(t, peak.Load(), int32(4))
	for _, n := range reg.Nodes() {
		assert.NotNil(t, n.MeasuredLatencyMs(), n.Name)
	}
}

func TestMeasureAll_RegistrationWaitsForPass(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := probe.Func(func(context.Context, string, int, time.Duration) (float64, error) {
		close(started)
		<-release
		return 1, nil
	})
	tr := newTransform(t, blocking, nil)
	_, err := tr.Registry().Register("a", 0, 0, 0, WithAddress("x"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.MeasureAll(context.Background())
	}()
	<-started

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		_, _ = tr.Registry().Register("b", 1, 1, 0)
	}()

	select {
	case <-registered:
		t.Fatal("registration completed while a pass was iterating")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("registration did not proceed after the pass")
	}
}

func TestMeasureAll_CancelledPassKeepsPreviousReading(t *testing.T) {
	t.Parallel()

	p := probe.Func(func(ctx context.Context, _ string, _ int, _ time.Duration) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 12, nil
	})
	obs := &recordingObserver{}
	tr := newTransform(t, p, nil, WithObserver(obs))
	n, err := tr.Registry().Register("dns", 40.7128, -74.0060, 30, WithAddress("8.8.8.8"))
	require.NoError(t, err)

	rep := tr.MeasureAll(context.Background())
	require.Equal(t, 1, rep.Probed)
	first, ok := n.Measurement()
	require.True(t, ok)

	obs.calls = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep = tr.MeasureAll(ctx)
	assert.Equal(t, 0, rep.Probed)
	assert.Equal(t, 0, rep.Fallbacks)
	assert.Equal(t, 1, rep.Cancelled)
	assert.Empty(t, obs.calls)

	got, ok := n.Measurement()
	require.True(t, ok)
	assert.Equal(t, first, got)
	assert.False(t, got.Fallback)
	assert.InDelta(t, 12, got.LatencyMs, 1e-9)
}
