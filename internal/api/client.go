package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"igmap/internal/model"
)

// StatusError is a non-2xx reply from the view server.
type StatusError struct {
	Status     string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed: %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Status)
}

// Client is a thin HTTP client for the igmap view server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: NormalizeBaseURL(baseURL),
		http: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// NormalizeBaseURL adds http:// to a bare host:port.
func NormalizeBaseURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// Nodes lists registered nodes.
func (c *Client) Nodes(ctx context.Context) (NodesResponse, error) {
	var resp NodesResponse
	err := c.do(ctx, http.MethodGet, "/nodes", nil, &resp)
	return resp, err
}

// Measure triggers a latency pass on the server.
func (c *Client) Measure(ctx context.Context) (MeasureResponse, error) {
	var resp MeasureResponse
	err := c.do(ctx, http.MethodPost, "/measure", nil, &resp)
	return resp, err
}

// Distance queries one node pair.
func (c *Client) Distance(ctx context.Context, from, to string) (DistanceResponse, error) {
	var resp DistanceResponse
	q := url.Values{"from": {from}, "to": {to}}
	err := c.do(ctx, http.MethodGet, "/distance?"+q.Encode(), nil, &resp)
	return resp, err
}

// Graph builds a graph. With no connections the server's configured set is used.
func (c *Client) Graph(ctx context.Context, connections []model.Connection) (*model.Graph, error) {
	var g model.Graph
	var err error
	if len(connections) == 0 {
		err = c.do(ctx, http.MethodGet, "/graph", nil, &g)
	} else {
		err = c.do(ctx, http.MethodPost, "/graph", GraphRequest{Connections: connections}, &g)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(res.Body)
		se := &StatusError{Status: res.Status, StatusCode: res.StatusCode}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			se.Message = er.Error
			se.Code = er.Code
		} else {
			se.Message = strings.TrimSpace(string(data))
		}
		return se
	}

	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

// IsCode reports whether err is a StatusError with the given code.
func IsCode(err error, code string) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
