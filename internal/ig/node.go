package ig

import (
	"sync"
	"time"

	"igmap/internal/geo"
	"igmap/internal/model"
)

// Presentation holds renderer hints. Nothing in the distance math reads it.
type Presentation struct {
	ElevationFloor float64
}

// Measurement is the outcome of the latest probe pass for a node.
type Measurement struct {
	LatencyMs  float64
	Fallback   bool
	Err        string
	MeasuredAt time.Time
}

// Node is a registered network endpoint. Identity fields are fixed at
// registration; only the measurement changes, and only through Transform.
type Node struct {
	Name         string
	Coordinate   geo.Coordinate
	Address      string
	IsUserNode   bool
	Presentation Presentation

	mu          sync.RWMutex
	measurement *Measurement
}

// Addressed reports whether the node is a probe target.
func (n *Node) Addressed() bool {
	return n.Address != ""
}

// Measurement returns the latest measurement, if any.
func (n *Node) Measurement() (Measurement, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.measurement == nil {
		return Measurement{}, false
	}
	return *n.measurement, true
}

// MeasuredLatencyMs returns nil until a pass has probed the node.
func (n *Node) MeasuredLatencyMs() *float64 {
	m, ok := n.Measurement()
	if !ok {
		return nil
	}
	v := m.LatencyMs
	return &v
}

func (n *Node) record(m Measurement) {
	n.mu.Lock()
	n.measurement = &m
	n.mu.Unlock()
}

// Snapshot copies the node for export.
func (n *Node) Snapshot() model.NodeSnapshot {
	s := model.NodeSnapshot{
		Name:           n.Name,
		Lat:            n.Coordinate.Lat,
		Lon:            n.Coordinate.Lon,
		Address:        n.Address,
		IsUserNode:     n.IsUserNode,
		ElevationFloor: n.Presentation.ElevationFloor,
	}
	if m, ok := n.Measurement(); ok {
		v := m.LatencyMs
		s.LatencyMs = &v
		s.Fallback = m.Fallback
	}
	return s
}

// NodeOption configures optional node fields at registration.
type NodeOption func(*Node)

// WithAddress sets the latency probe target.
func WithAddress(addr string) NodeOption {
	return func(n *Node) {
		n.Address = addr
	}
}

// AsUserNode marks the node as the caller's own endpoint.
func AsUserNode() NodeOption {
	return func(n *Node) {
		n.IsUserNode = true
	}
}
