package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"igmap/internal/model"
)

func TestClient_ErrorIncludesBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown node \"x\"","code":"unknown_node"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL)
	_, err := c.Distance(context.Background(), "a", "x")
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if want := "404"; !strings.Contains(got, want) {
		t.Fatalf("error missing status: %q", got)
	}
	if want := `unknown node "x"`; !strings.Contains(got, want) {
		t.Fatalf("error missing body: %q", got)
	}
	if !IsCode(err, CodeUnknownNode) {
		t.Fatalf("code not decoded: %#v", err)
	}
}

func TestClient_GraphPostsConnections(t *testing.T) {
	t.Parallel()

	var gotMethod string
	var gotReq GraphRequest
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(model.Graph{MaxIGDistanceKm: 42})
	}))
	defer s.Close()

	g, err := NewClient(s.URL).Graph(context.Background(), []model.Connection{{From: "a", To: "b"}})
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if gotMethod != http.MethodPost || len(gotReq.Connections) != 1 || gotReq.Connections[0].To != "b" {
		t.Fatalf("method=%s req=%+v", gotMethod, gotReq)
	}
	if g.MaxIGDistanceKm != 42 {
		t.Fatalf("max=%v", g.MaxIGDistanceKm)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	if got := NormalizeBaseURL("127.0.0.1:8080/"); got != "http://127.0.0.1:8080" {
		t.Fatalf("got=%q", got)
	}
	if got := NormalizeBaseURL("https://x"); got != "https://x" {
		t.Fatalf("got=%q", got)
	}
}
