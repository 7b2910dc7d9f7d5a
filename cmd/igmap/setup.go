package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"igmap/internal/config"
	"igmap/internal/execx"
	"igmap/internal/geoip"
	"igmap/internal/graph"
	"igmap/internal/ig"
	"igmap/internal/probe"
	"igmap/internal/stunutil"
	"igmap/internal/telemetry"
)

// engine is everything a subcommand needs to measure and query.
type engine struct {
	cfg       config.Config
	tr        *ig.Transform
	view      *graph.View
	collector *telemetry.Collector
}

func newEngine(ctx context.Context, cfg config.Config) (*engine, error) {
	settings, err := config.TransformSettings(cfg)
	if err != nil {
		return nil, err
	}

	reg := ig.NewRegistry(
		ig.WithDuplicatePolicy(ig.DuplicatePolicy(cfg.Transform.DuplicatePolicy)),
		ig.WithLocator(newLocator(cfg.Locate)),
		ig.WithRegistryLogger(log),
	)

	collector := telemetry.NewCollector()
	tr, err := ig.New(reg, newProber(cfg.Probe), settings,
		ig.WithLogger(log),
		ig.WithObserver(collector),
	)
	if err != nil {
		return nil, err
	}

	if err := registerNodes(ctx, reg, cfg); err != nil {
		return nil, err
	}

	return &engine{
		cfg:       cfg,
		tr:        tr,
		view:      graph.NewView(tr, graph.WithEdgeObserver(collector)),
		collector: collector,
	}, nil
}

func newProber(cfg config.ProbeConfig) probe.Prober {
	if cfg.Method == "udp" {
		return probe.NewEchoProber(cfg.UDPPort)
	}
	return probe.NewPingProber(execx.NewOSRunner(nil, nil))
}

func newLocator(cfg config.LocateConfig) ig.Locator {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	opts := []geoip.Option{
		geoip.WithLogger(log),
		geoip.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if len(cfg.Services) > 0 {
		services := make([]geoip.Service, 0, len(cfg.Services))
		for _, name := range cfg.Services {
			if svc, ok := geoip.ServiceByName(name); ok {
				services = append(services, svc)
			}
		}
		opts = append(opts, geoip.WithServices(services...))
	}

	loc := geoip.NewHTTPLocator(opts...)
	if len(cfg.STUNServers) == 0 {
		return loc
	}
	return geoip.WithAddressResolver(loc, stunutil.Resolver{Servers: cfg.STUNServers, Timeout: timeout}, log)
}

// registerNodes registers configured nodes, then the located user node.
// When location fails the configured fallback coordinate is used instead.
func registerNodes(ctx context.Context, reg *ig.Registry, cfg config.Config) error {
	for _, n := range cfg.Nodes {
		var opts []ig.NodeOption
		if n.Address != "" {
			opts = append(opts, ig.WithAddress(n.Address))
		}
		if n.User {
			opts = append(opts, ig.AsUserNode())
		}
		if _, err := reg.Register(n.Name, n.Lat, n.Lon, n.ElevationFloor, opts...); err != nil {
			return err
		}
	}

	if !cfg.Locate.Enabled {
		return nil
	}

	elevation := config.DefaultSelfElevation
	if cfg.Locate.SelfElevationFloor != nil {
		elevation = *cfg.Locate.SelfElevationFloor
	}
	_, err := reg.RegisterSelf(ctx, cfg.Locate.SelfName, elevation)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ig.ErrLocationUnavailable) || cfg.Locate.Fallback == nil {
		return err
	}

	fb := *cfg.Locate.Fallback
	log.WithError(err).WithFields(logrus.Fields{
		"lat": fb.Lat,
		"lon": fb.Lon,
	}).Warn("could not locate this machine, using configured fallback location")
	_, err = reg.Register(cfg.Locate.SelfName, fb.Lat, fb.Lon, elevation, ig.AsUserNode())
	return err
}
