package model

import "time"

// NodeSnapshot is an immutable copy of a registered node.
type NodeSnapshot struct {
	Name           string   `json:"name" yaml:"name"`
	Lat            float64  `json:"lat" yaml:"lat"`
	Lon            float64  `json:"lon" yaml:"lon"`
	Address        string   `json:"address,omitempty" yaml:"address,omitempty"`
	IsUserNode     bool     `json:"is_user_node" yaml:"is_user_node"`
	ElevationFloor float64  `json:"elevation_floor" yaml:"elevation_floor"` // presentation only
	LatencyMs      *float64 `json:"latency_ms,omitempty" yaml:"latency_ms,omitempty"`
	Fallback       bool     `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// IGResult is the outcome of one pair query.
type IGResult struct {
	PhysicalKm     float64 `json:"physical_km" yaml:"physical_km"`
	WorstLatencyMs float64 `json:"worst_latency_ms" yaml:"worst_latency_ms"`
	IGDistanceKm   float64 `json:"ig_distance_km" yaml:"ig_distance_km"`
	IGFactor       float64 `json:"ig_factor" yaml:"ig_factor"`
}

// Connection names an unordered node pair to include in a graph.
type Connection struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Edge is one weighted connection of a graph.
type Edge struct {
	From   NodeSnapshot `json:"from" yaml:"from"`
	To     NodeSnapshot `json:"to" yaml:"to"`
	Result IGResult     `json:"result" yaml:"result"`
}

// Graph is the read-only view handed to renderers.
type Graph struct {
	BuiltAt         time.Time      `json:"built_at" yaml:"built_at"`
	Nodes           []NodeSnapshot `json:"nodes" yaml:"nodes"`
	Edges           []Edge         `json:"edges" yaml:"edges"`
	MaxIGDistanceKm float64        `json:"max_ig_distance_km" yaml:"max_ig_distance_km"`
}
