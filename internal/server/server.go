// Package server exposes the transform and graph view over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"igmap/internal/api"
	"igmap/internal/geo"
	"igmap/internal/graph"
	"igmap/internal/ig"
	"igmap/internal/model"
	"igmap/internal/store"
)

// Server provides the igmap view API.
type Server struct {
	listen      string
	tr          *ig.Transform
	view        *graph.View
	connections []model.Connection
	metrics     http.Handler
	snapshot    string
	log         logrus.FieldLogger

	// mu guards last. A failed build never replaces the last good graph.
	mu   sync.Mutex
	last *model.Graph
}

type Option func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithSnapshotPath persists every successfully built graph as YAML.
func WithSnapshotPath(path string) Option {
	return func(s *Server) {
		s.snapshot = path
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a server. connections is the set used by GET /graph.
func New(listen string, tr *ig.Transform, view *graph.View, connections []model.Connection, opts ...Option) *Server {
	s := &Server{
		listen:      listen,
		tr:          tr,
		view:        view,
		connections: append([]model.Connection(nil), connections...),
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/measure", s.handleMeasure)
	mux.HandleFunc("/distance", s.handleDistance)
	mux.HandleFunc("/graph", s.handleGraph)
	mux.HandleFunc("/graph/latest", s.handleLatest)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.log.WithField("listen", s.listen).Info("view server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// Latest returns the last successfully built graph, if any.
func (s *Server) Latest() (*model.Graph, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != nil
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	writeJSON(w, http.StatusOK, api.NodesResponse{Nodes: s.tr.Registry().Snapshot()})
}

func (s *Server) handleMeasure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	rep := s.tr.MeasureAll(r.Context())
	writeJSON(w, http.StatusOK, api.MeasureResponse{
		Probed:    rep.Probed,
		Fallbacks: rep.Fallbacks,
		Skipped:   rep.Skipped,
		Cancelled: rep.Cancelled,
		TookMs:    float64(rep.Took) / float64(time.Millisecond),
	})
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeJSONError(w, http.StatusBadRequest, "from and to are required", api.CodeBadRequest)
		return
	}
	res, err := s.tr.IGDistance(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DistanceResponse{From: from, To: to, Result: res})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	var conns []model.Connection
	switch r.Method {
	case http.MethodGet:
		conns = s.connections
	case http.MethodPost:
		var req api.GraphRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error(), api.CodeBadRequest)
			return
		}
		conns = req.Connections
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	g, err := s.view.Build(conns)
	if err != nil {
		s.log.WithError(err).Warn("graph build failed, keeping previous snapshot")
		writeError(w, err)
		return
	}

	if err := s.Publish(g); err != nil {
		s.log.WithError(err).WithField("path", s.snapshot).Warn("graph snapshot not saved")
	}
	writeJSON(w, http.StatusOK, g)
}

// Publish makes g the last good graph and persists it when a snapshot
// path is configured.
func (s *Server) Publish(g *model.Graph) error {
	if g == nil {
		return nil
	}
	s.mu.Lock()
	s.last = g
	s.mu.Unlock()

	if s.snapshot == "" {
		return nil
	}
	return store.SaveGraph(s.snapshot, g)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	g, ok := s.Latest()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no graph built yet", api.CodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ig.ErrUnknownNode):
		writeJSONError(w, http.StatusNotFound, err.Error(), api.CodeUnknownNode)
	case errors.Is(err, ig.ErrLatencyNotMeasured):
		writeJSONError(w, http.StatusConflict, err.Error(), api.CodeLatencyNotMeasured)
	case errors.Is(err, geo.ErrInvalidCoordinate):
		writeJSONError(w, http.StatusBadRequest, err.Error(), api.CodeBadRequest)
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}
