package api

import "igmap/internal/model"

// MeasureResponse reports a completed latency pass.
type MeasureResponse struct {
	Probed    int     `json:"probed"`
	Fallbacks int     `json:"fallbacks"`
	Skipped   int     `json:"skipped"`
	Cancelled int     `json:"cancelled,omitempty"`
	TookMs    float64 `json:"took_ms"`
}

// NodesResponse lists registered nodes in registration order.
type NodesResponse struct {
	Nodes []model.NodeSnapshot `json:"nodes"`
}

// DistanceResponse is one pair query.
type DistanceResponse struct {
	From   string         `json:"from"`
	To     string         `json:"to"`
	Result model.IGResult `json:"result"`
}

// GraphRequest asks for a graph over explicit connections.
type GraphRequest struct {
	Connections []model.Connection `json:"connections"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeUnknownNode        = "unknown_node"
	CodeLatencyNotMeasured = "latency_not_measured"
	CodeBadRequest         = "bad_request"
	CodeNotFound           = "not_found"
)
