// Package graph assembles the weighted node graph consumed by renderers.
package graph

import (
	"time"

	"igmap/internal/ig"
	"igmap/internal/model"
)

// EdgeObserver is told about every edge of a successfully built graph.
type EdgeObserver interface {
	ObserveEdge(from, to string, r model.IGResult)
}

// View builds graph snapshots from a transform's registry.
type View struct {
	tr  *ig.Transform
	obs EdgeObserver
	now func() time.Time
}

type Option func(*View)

func WithEdgeObserver(o EdgeObserver) Option {
	return func(v *View) {
		v.obs = o
	}
}

func NewView(tr *ig.Transform, opts ...Option) *View {
	v := &View{tr: tr, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type pair struct {
	a, b *ig.Node
}

// Build resolves every connection, computes its IG result and returns a
// new snapshot. Unknown names fail with *ig.UnknownNodeError before any
// distance is computed; ig.ErrLatencyNotMeasured is returned as is.
// Nothing is observed unless the whole build succeeds.
func (v *View) Build(connections []model.Connection) (*model.Graph, error) {
	reg := v.tr.Registry()

	pairs := make([]pair, 0, len(connections))
	for _, c := range connections {
		a, err := reg.Lookup(c.From)
		if err != nil {
			return nil, err
		}
		b, err := reg.Lookup(c.To)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{a: a, b: b})
	}

	g := &model.Graph{
		BuiltAt: v.now().UTC(),
		Nodes:   reg.Snapshot(),
		Edges:   make([]model.Edge, 0, len(pairs)),
	}
	for _, p := range pairs {
		r, err := v.tr.Compute(p.a, p.b)
		if err != nil {
			return nil, err
		}
		g.Edges = append(g.Edges, model.Edge{From: p.a.Snapshot(), To: p.b.Snapshot(), Result: r})
		if r.IGDistanceKm > g.MaxIGDistanceKm {
			g.MaxIGDistanceKm = r.IGDistanceKm
		}
	}

	if v.obs != nil {
		for _, e := range g.Edges {
			v.obs.ObserveEdge(e.From.Name, e.To.Name, e.Result)
		}
	}
	return g, nil
}

// EffortRatio is an edge's IG distance relative to the heaviest edge, in [0, 1].
func EffortRatio(g *model.Graph, e model.Edge) float64 {
	if g == nil || g.MaxIGDistanceKm <= 0 {
		return 0
	}
	return e.Result.IGDistanceKm / g.MaxIGDistanceKm
}
