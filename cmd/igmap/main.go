package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"igmap/internal/agent"
	"igmap/internal/api"
	"igmap/internal/config"
	"igmap/internal/direct"
	"igmap/internal/metrics"
	"igmap/internal/model"
	"igmap/internal/render"
	"igmap/internal/server"
	"igmap/internal/store"
)

const usage = `igmap - IG virtual distance engine

Usage:
  igmap init --config <path> [--force]
  igmap measure --config <path>
  igmap distance --config <path> --from <name> --to <name>
  igmap graph --config <path> [--format json|yaml|csv|dot] [--out <file>] [--server <addr>]
  igmap locate --config <path>
  igmap serve --config <path> [--listen <addr>] [--interval 1m] [--snapshot <file>]
  igmap echo [--listen :51900]
  igmap stats --config <path> [--in <csv>]

Global flags (after the subcommand):
  --log-level debug|info|warn|error
  --log-json
`

var log = logrus.New()

func initLogger(level string, asJSON bool) {
	if asJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	log.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "init":
		handleInit(os.Args[2:])
	case "measure":
		handleMeasure(os.Args[2:])
	case "distance":
		handleDistance(os.Args[2:])
	case "graph":
		handleGraph(os.Args[2:])
	case "locate":
		handleLocate(os.Args[2:])
	case "serve":
		handleServe(os.Args[2:])
	case "echo":
		handleEcho(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (configPath *string, parse func(args []string)) {
	configPath = fs.String("config", "", "path to YAML config (default: built-in example topology)")
	level := fs.String("log-level", "info", "log level")
	asJSON := fs.Bool("log-json", false, "log as JSON")
	return configPath, func(args []string) {
		_ = fs.Parse(args)
		initLogger(*level, *asJSON)
	}
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath, parse := commonFlags(fs)
	force := fs.Bool("force", false, "overwrite an existing file")
	parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		fatal(fmt.Errorf("%s exists, use --force to overwrite", *configPath))
	}
	if err := config.Save(*configPath, config.Example()); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *configPath)
}

func handleMeasure(args []string) {
	fs := flag.NewFlagSet("measure", flag.ExitOnError)
	configPath, parse := commonFlags(fs)
	parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	eng := mustEngine(ctx, *configPath)
	rep := eng.tr.MeasureAll(ctx)

	fmt.Fprintf(os.Stdout, "%-28s  %-16s  %-10s  %-8s\n", "NODE", "ADDRESS", "LATENCY", "FALLBACK")
	for _, n := range eng.tr.Registry().Snapshot() {
		fmt.Fprintf(os.Stdout, "%-28s  %-16s  %-10s  %-8t\n", n.Name, dash(n.Address), formatLatency(n.LatencyMs), n.Fallback)
	}
	fmt.Fprintf(os.Stdout, "probed=%d fallbacks=%d skipped=%d took=%s\n", rep.Probed, rep.Fallbacks, rep.Skipped, rep.Took.Round(time.Millisecond))
}

func handleDistance(args []string) {
	fs := flag.NewFlagSet("distance", flag.ExitOnError)
	configPath, parse := commonFlags(fs)
	from := fs.String("from", "", "first node name")
	to := fs.String("to", "", "second node name")
	parse(args)

	if *from == "" || *to == "" {
		fatal(errors.New("--from and --to are required"))
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng := mustEngine(ctx, *configPath)
	eng.tr.MeasureAll(ctx)

	res, err := eng.tr.IGDistance(*from, *to)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "%s -> %s\n", *from, *to)
	fmt.Fprintf(os.Stdout, "physical=%.2fkm worst_latency=%.2fms factor=%.4f ig=%.2fkm\n",
		res.PhysicalKm, res.WorstLatencyMs, res.IGFactor, res.IGDistanceKm)
}

func handleGraph(args []string) {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	configPath, parse := commonFlags(fs)
	format := fs.String("format", "json", "json|yaml|csv|dot")
	out := fs.String("out", "", "output file (default stdout)")
	serverAddr := fs.String("server", "", "fetch the graph from a running igmap serve instance")
	parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	var g *model.Graph
	var cfg config.Config
	if *serverAddr != "" {
		var err error
		g, err = api.NewClient(*serverAddr).Graph(ctx, nil)
		if err != nil {
			fatal(err)
		}
	} else {
		eng := mustEngine(ctx, *configPath)
		cfg = eng.cfg
		eng.tr.MeasureAll(ctx)
		var err error
		g, err = eng.view.Build(cfg.Connections)
		if err != nil {
			fatal(err)
		}
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		w = f
	}
	if err := writeGraph(w, *format, g); err != nil {
		fatal(err)
	}
	if err := writeOutputs(cfg.Output, g); err != nil {
		fatal(err)
	}
}

func writeGraph(w io.Writer, format string, g *model.Graph) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(g)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(g); err != nil {
			return err
		}
		return encoder.Close()
	case "csv":
		return metrics.WriteCSV(w, g.Edges)
	case "dot":
		return render.WriteDOT(w, g)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// writeOutputs writes the extra files named in the output section.
func writeOutputs(out config.OutputConfig, g *model.Graph) error {
	if out.CSVPath != "" {
		if err := metrics.WriteCSVFile(out.CSVPath, g.Edges); err != nil {
			return err
		}
	}
	if out.YAMLPath != "" {
		if err := store.SaveGraph(out.YAMLPath, g); err != nil {
			return err
		}
	}
	if out.DOTPath != "" {
		f, err := os.Create(out.DOTPath)
		if err != nil {
			return err
		}
		if err := render.WriteDOT(f, g); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}

func handleLocate(args []string) {
	fs := flag.NewFlagSet("locate", flag.ExitOnError)
	configPath, parse := commonFlags(fs)
	parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	loc, err := newLocator(cfg.Locate).Locate(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "lat=%.4f lon=%.4f ip=%s source=%s\n", loc.Lat, loc.Lon, dash(loc.IP), loc.Source)
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, parse := commonFlags(fs)
	listen := fs.String("listen", "", "listen address override")
	interval := fs.Duration("interval", 0, "re-measure interval (0 measures once)")
	maxFailed := fs.Int("max-failed-passes", 0, "exit after this many passes where every probe fell back (0 disables)")
	snapshot := fs.String("snapshot", "", "persist each built graph as YAML")
	parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	eng := mustEngine(ctx, *configPath)
	if *listen != "" {
		eng.cfg.Server.Listen = *listen
	}
	if *snapshot == "" {
		*snapshot = eng.cfg.Output.YAMLPath
	}

	srv := server.New(eng.cfg.Server.Listen, eng.tr, eng.view, eng.cfg.Connections,
		server.WithLogger(log),
		server.WithMetricsHandler(eng.collector.Handler()),
		server.WithSnapshotPath(*snapshot),
	)
	output := eng.cfg.Output
	output.YAMLPath = ""
	refresher := agent.New(eng.tr, eng.view, eng.cfg.Connections, *interval,
		agent.WithLogger(log),
		agent.WithMaxFailedPasses(*maxFailed),
		agent.WithSink(srv.Publish),
		agent.WithSink(func(g *model.Graph) error { return writeOutputs(output, g) }),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := refresher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	fatal(g.Wait())
}

func handleEcho(args []string) {
	fs := flag.NewFlagSet("echo", flag.ExitOnError)
	_, parse := commonFlags(fs)
	listen := fs.String("listen", fmt.Sprintf(":%d", direct.DefaultPort), "UDP listen address")
	parse(args)

	responder, err := direct.StartResponder(*listen)
	if err != nil {
		fatal(err)
	}
	defer responder.Close()

	log.WithField("addr", responder.LocalAddr()).Info("udp echo responder listening")
	waitForSignal()
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath, parse := commonFlags(fs)
	in := fs.String("in", "", "edge CSV path (default output.csv_path)")
	parse(args)

	path := *in
	if path == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fatal(err)
		}
		path = cfg.Output.CSVPath
	}
	if path == "" {
		fatal(errors.New("--in or output.csv_path required"))
	}

	items, err := metrics.ReadCSV(path)
	if err != nil {
		fatal(err)
	}
	summary := metrics.Summarize(items)
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no edges")
		return
	}

	fmt.Fprintf(os.Stdout, "edges=%d fallback_edges=%d\n", summary.Count, summary.FallbackEdges)
	fmt.Fprintf(os.Stdout, "physical avg=%.2fkm ig avg=%.2fkm max=%.2fkm\n", summary.AvgPhysicalKm, summary.AvgIGDistanceKm, summary.MaxIGDistanceKm)
	fmt.Fprintf(os.Stdout, "factor avg=%.4f min=%.4f max=%.4f worst_latency p95=%.2fms\n", summary.AvgIGFactor, summary.MinIGFactor, summary.MaxIGFactor, summary.P95WorstLatencyMs)
}

func mustEngine(ctx context.Context, configPath string) *engine {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	eng, err := newEngine(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	return eng
}

// loadConfig reads path, or returns the example topology when path is empty.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Example()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func formatLatency(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2fms", *v)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	log.WithError(err).Error("igmap failed")
	os.Exit(1)
}
