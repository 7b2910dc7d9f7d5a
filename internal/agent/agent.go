// Package agent keeps latency readings and the graph snapshot fresh.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"igmap/internal/graph"
	"igmap/internal/ig"
	"igmap/internal/model"
)

// ErrNetworkUnreachable is returned by Run when too many consecutive passes
// fell back for every probed node.
var ErrNetworkUnreachable = errors.New("every probe failed for consecutive passes")

// Sink receives each successfully built graph.
type Sink func(*model.Graph) error

// Agent periodically re-measures and rebuilds the graph.
type Agent struct {
	tr          *ig.Transform
	view        *graph.View
	connections []model.Connection
	interval    time.Duration
	maxDown     int
	sinks       []Sink
	log         logrus.FieldLogger

	down int
}

type Option func(*Agent)

// WithSink adds a receiver for built graphs. Sink errors are logged.
func WithSink(s Sink) Option {
	return func(a *Agent) {
		a.sinks = append(a.sinks, s)
	}
}

// WithMaxFailedPasses makes Run stop after n passes in a row where every
// probed node fell back. Zero disables the check.
func WithMaxFailedPasses(n int) Option {
	return func(a *Agent) {
		a.maxDown = n
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

func New(tr *ig.Transform, view *graph.View, connections []model.Connection, interval time.Duration, opts ...Option) *Agent {
	a := &Agent{
		tr:          tr,
		view:        view,
		connections: append([]model.Connection(nil), connections...),
		interval:    interval,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunOnce measures every node and rebuilds the graph. The report is
// returned even when the build fails. A pass cut short by ctx returns
// ctx.Err() without building, feeding sinks or counting toward the
// unreachable limit.
func (a *Agent) RunOnce(ctx context.Context) (ig.MeasureReport, *model.Graph, error) {
	rep := a.tr.MeasureAll(ctx)
	if err := ctx.Err(); err != nil {
		return rep, nil, err
	}
	if rep.Probed > 0 && rep.Fallbacks == rep.Probed {
		a.down++
	} else {
		a.down = 0
	}

	g, err := a.view.Build(a.connections)
	if err != nil {
		return rep, nil, err
	}
	for _, sink := range a.sinks {
		if err := sink(g); err != nil {
			a.log.WithError(err).Warn("graph sink failed")
		}
	}
	return rep, g, nil
}

// Run calls RunOnce immediately and then every interval until ctx ends.
// With a non-positive interval it returns after the first pass.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.pass(ctx); err != nil {
		return err
	}
	if a.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.pass(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) pass(ctx context.Context) error {
	_, _, err := a.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		a.log.WithError(err).Warn("graph rebuild failed")
	}
	if a.maxDown > 0 && a.down >= a.maxDown {
		a.log.WithField("passes", a.down).Error("network unreachable")
		return ErrNetworkUnreachable
	}
	return nil
}
