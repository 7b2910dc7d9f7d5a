// Package geoip resolves the caller's public location through Geo-IP
// lookup services.
package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds each service request.
const DefaultTimeout = 10 * time.Second

var (
	ErrAllServicesFailed = errors.New("all Geo-IP services failed")
	ErrZeroCoordinates   = errors.New("service returned 0,0 coordinates")
)

// Location is a resolved public location.
type Location struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	IP     string  `json:"ip,omitempty"`
	Source string  `json:"source"`
}

// Service is one Geo-IP endpoint and the parser for its response body.
type Service struct {
	Name  string
	URL   string
	Parse func(body []byte) (Location, error)
}

// IPAPI is ip-api.com's JSON endpoint.
func IPAPI() Service {
	return Service{Name: "ip-api.com", URL: "http://ip-api.com/json/", Parse: parseIPAPI}
}

// IPInfo is ipinfo.io's JSON endpoint.
func IPInfo() Service {
	return Service{Name: "ipinfo.io", URL: "https://ipinfo.io/json", Parse: parseIPInfo}
}

// ServiceByName maps a config name to a built-in service.
func ServiceByName(name string) (Service, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ip-api", "ip-api.com":
		return IPAPI(), true
	case "ipinfo", "ipinfo.io":
		return IPInfo(), true
	}
	return Service{}, false
}

// DefaultServices is the lookup order used when none is configured.
func DefaultServices() []Service {
	return []Service{IPAPI(), IPInfo()}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Query   string  `json:"query"`
}

func parseIPAPI(body []byte) (Location, error) {
	var resp ipAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Location{}, err
	}
	if resp.Status == "fail" {
		return Location{}, fmt.Errorf("ip-api.com: %s", resp.Message)
	}
	return Location{Lat: resp.Lat, Lon: resp.Lon, IP: resp.Query}, nil
}

type ipInfoResponse struct {
	IP  string `json:"ip"`
	Loc string `json:"loc"`
}

func parseIPInfo(body []byte) (Location, error) {
	var resp ipInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Location{}, err
	}
	parts := strings.Split(resp.Loc, ",")
	if len(parts) != 2 {
		return Location{}, fmt.Errorf("ipinfo.io: malformed loc %q", resp.Loc)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Location{}, fmt.Errorf("ipinfo.io: latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Location{}, fmt.Errorf("ipinfo.io: longitude: %w", err)
	}
	return Location{Lat: lat, Lon: lon, IP: resp.IP}, nil
}

// HTTPLocator tries each service in order and returns the first usable
// location.
type HTTPLocator struct {
	services []Service
	http     *http.Client
	log      logrus.FieldLogger
}

// Option configures an HTTPLocator.
type Option func(*HTTPLocator)

func WithServices(services ...Service) Option {
	return func(l *HTTPLocator) {
		if len(services) > 0 {
			l.services = services
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(l *HTTPLocator) {
		if c != nil {
			l.http = c
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *HTTPLocator) {
		if log != nil {
			l.log = log
		}
	}
}

func NewHTTPLocator(opts ...Option) *HTTPLocator {
	l := &HTTPLocator{
		services: DefaultServices(),
		http:     &http.Client{Timeout: DefaultTimeout},
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate queries the services in order. A 0,0 answer counts as a failure.
func (l *HTTPLocator) Locate(ctx context.Context) (Location, error) {
	var errs []error
	for _, svc := range l.services {
		log := l.log.WithField("service", svc.Name)
		log.Info("fetching location")

		loc, err := l.query(ctx, svc)
		if err == nil && loc.Lat == 0 && loc.Lon == 0 {
			err = ErrZeroCoordinates
		}
		if err != nil {
			log.WithError(err).Warn("Geo-IP lookup failed, trying next service")
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		loc.Source = svc.Name
		log.WithFields(logrus.Fields{"lat": loc.Lat, "lon": loc.Lon, "ip": loc.IP}).Info("location fetched")
		return loc, nil
	}
	return Location{}, fmt.Errorf("%w: %w", ErrAllServicesFailed, errors.Join(errs...))
}

func (l *HTTPLocator) query(ctx context.Context, svc Service) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL, nil)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := l.http.Do(req)
	if err != nil {
		return Location{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Location{}, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return Location{}, fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return Location{}, fmt.Errorf("request failed: %s", res.Status)
	}
	return svc.Parse(body)
}
