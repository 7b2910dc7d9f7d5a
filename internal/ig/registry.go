package ig

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"igmap/internal/geo"
	"igmap/internal/geoip"
	"igmap/internal/model"
)

// DuplicatePolicy decides what Register does with a name already present.
type DuplicatePolicy string

const (
	// DuplicateReplace swaps in the new node; the old node's measurement is gone.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateReject fails with ErrDuplicateNode.
	DuplicateReject DuplicatePolicy = "reject"
)

// Valid reports whether p is a known policy.
func (p DuplicatePolicy) Valid() bool {
	return p == DuplicateReplace || p == DuplicateReject
}

// Locator resolves the caller's own public location.
type Locator interface {
	Locate(ctx context.Context) (geoip.Location, error)
}

// Registry owns all nodes, keyed by name, in registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	nodes   map[string]*Node
	policy  DuplicatePolicy
	locator Locator
	log     logrus.FieldLogger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDuplicatePolicy overrides the default replace-by-name behaviour.
func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption {
	return func(r *Registry) {
		if p.Valid() {
			r.policy = p
		}
	}
}

// WithLocator enables RegisterSelf.
func WithLocator(l Locator) RegistryOption {
	return func(r *Registry) {
		r.locator = l
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l logrus.FieldLogger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		nodes:  make(map[string]*Node),
		policy: DuplicateReplace,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates the coordinates and stores a new node. Under the
// default policy an existing node with the same name is replaced, keeping
// its position in registration order; the replacement starts unmeasured.
// The returned handle is the stored node, so later measurements are
// visible through it.
func (r *Registry) Register(name string, lat, lon, elevationFloor float64, opts ...NodeOption) (*Node, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if err := geo.Validate(lat, lon); err != nil {
		return nil, fmt.Errorf("register %q: %w", name, err)
	}

	n := &Node{
		Name:         name,
		Coordinate:   geo.Coordinate{Lat: lat, Lon: lon},
		Presentation: Presentation{ElevationFloor: elevationFloor},
	}
	for _, opt := range opts {
		opt(n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[name]; exists {
		if r.policy == DuplicateReject {
			return nil, fmt.Errorf("register %q: %w", name, ErrDuplicateNode)
		}
		r.log.WithField("node", name).Debug("replacing registered node")
	} else {
		r.order = append(r.order, name)
	}
	r.nodes[name] = n

	r.log.WithFields(logrus.Fields{
		"node":    name,
		"lat":     lat,
		"lon":     lon,
		"address": n.Address,
	}).Debug("registered node")
	return n, nil
}

// RegisterSelf locates the caller and registers it as the user node. It
// never substitutes a default location: any locator failure is returned
// as ErrLocationUnavailable.
func (r *Registry) RegisterSelf(ctx context.Context, name string, elevationFloor float64) (*Node, error) {
	if r.locator == nil {
		return nil, fmt.Errorf("register self: %w: no locator configured", ErrLocationUnavailable)
	}
	loc, err := r.locator.Locate(ctx)
	if err != nil {
		return nil, fmt.Errorf("register self: %w: %v", ErrLocationUnavailable, err)
	}
	if err := geo.Validate(loc.Lat, loc.Lon); err != nil {
		return nil, fmt.Errorf("register self: %w: %v", ErrLocationUnavailable, err)
	}

	r.log.WithFields(logrus.Fields{
		"lat":    loc.Lat,
		"lon":    loc.Lon,
		"ip":     loc.IP,
		"source": loc.Source,
	}).Info("located user node")

	return r.Register(name, loc.Lat, loc.Lon, elevationFloor, WithAddress(loc.IP), AsUserNode())
}

// Get returns the node registered under name.
func (r *Registry) Get(name string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	return n, ok
}

// Lookup is Get returning an *UnknownNodeError when absent.
func (r *Registry) Lookup(name string) (*Node, error) {
	n, ok := r.Get(name)
	if !ok {
		return nil, &UnknownNodeError{Name: name}
	}
	return n, nil
}

// Nodes returns the registered nodes in registration order.
func (r *Registry) Nodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodesLocked()
}

func (r *Registry) nodesLocked() []*Node {
	out := make([]*Node, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.nodes[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// UserNode returns the first node flagged as the user node, or nil.
func (r *Registry) UserNode() *Node {
	for _, n := range r.Nodes() {
		if n.IsUserNode {
			return n
		}
	}
	return nil
}

// Snapshot copies every node in registration order.
func (r *Registry) Snapshot() []model.NodeSnapshot {
	nodes := r.Nodes()
	out := make([]model.NodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Snapshot())
	}
	return out
}

// withNodes runs fn while holding the read lock, so registration waits
// until fn returns. fn must not call back into the registry.
func (r *Registry) withNodes(fn func(nodes []*Node)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.nodesLocked())
}
