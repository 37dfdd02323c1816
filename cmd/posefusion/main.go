// Command posefusion fuses a recorded or live multi-system tracker stream
// onto a skeleton and optionally persists and plots the run.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/posefusion/internal/config"
	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/ingest"
	"github.com/banshee-data/posefusion/internal/fusion/pipeline"
	"github.com/banshee-data/posefusion/internal/fusion/report"
	"github.com/banshee-data/posefusion/internal/fusion/storage/sqlite"
	"github.com/banshee-data/posefusion/internal/monitoring"
	"github.com/banshee-data/posefusion/internal/timeutil"
	"github.com/banshee-data/posefusion/internal/version"
)

type options struct {
	skeleton  string
	input     string
	serial    string
	baud      int
	config    string
	db        string
	reportDir string
	frame     float64
	live      bool
	diag      bool
	trace     bool
	version   bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("posefusion", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.skeleton, "skeleton", "", "Skeleton definition JSON (required)")
	fs.StringVar(&o.input, "input", "", "JSON-lines measurement file, - for stdin")
	fs.StringVar(&o.serial, "serial", "", "Serial device streaming JSON-lines measurements")
	fs.IntVar(&o.baud, "baud", 0, "Serial baud rate (default 115200)")
	fs.StringVar(&o.config, "config", "", "Fusion config JSON (defaults when empty)")
	fs.StringVar(&o.db, "db", "", "SQLite file to persist calibrations and poses")
	fs.StringVar(&o.reportDir, "report-dir", "", "Directory for convergence plots and trajectory HTML")
	fs.Float64Var(&o.frame, "frame", 0.05, "Replay: seconds of stream time per fuse cycle")
	fs.BoolVar(&o.live, "live", false, "Fuse on the configured wall-clock interval instead of by timestamp")
	fs.BoolVar(&o.diag, "diag", false, "Enable the diagnostic log stream")
	fs.BoolVar(&o.trace, "trace", false, "Enable the per-cycle trace log stream")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.version {
		return o, nil
	}
	if o.skeleton == "" {
		return o, errors.New("-skeleton is required")
	}
	if (o.input == "") == (o.serial == "") {
		return o, errors.New("exactly one of -input or -serial is required")
	}
	if o.serial != "" {
		o.live = true
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("posefusion: %v", err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintf(stdout, "posefusion %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return nil
	}

	writers := fusion.LogWriters{Ops: stderr}
	if o.diag {
		writers.Diag = stderr
	}
	if o.trace {
		writers.Trace = stderr
	}
	fusion.SetLogWriters(writers)
	monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)

	fcfg := config.EmptyFusionConfig()
	if o.config != "" {
		if fcfg, err = config.LoadFusionConfig(o.config); err != nil {
			return err
		}
	}
	cfg, err := pipeline.ConfigFromFusion(fcfg)
	if err != nil {
		return err
	}

	def, err := ingest.LoadSkeleton(o.skeleton)
	if err != nil {
		return err
	}
	core := pipeline.NewCore(cfg)
	if err := def.Build(core); err != nil {
		return err
	}

	var observers []func(pipeline.CycleReport)
	if o.db != "" {
		var db *sql.DB
		if db, err = sqlite.Open(o.db); err != nil {
			return err
		}
		defer db.Close()
		observers = append(observers, sqlite.NewCycleWriter(db, core).Observe)
	}
	var rec *report.Recorder
	if o.reportDir != "" {
		rec = report.NewRecorder(core)
		observers = append(observers, rec.Observe)
	}
	if len(observers) > 0 {
		core.SetCycleObserver(func(r pipeline.CycleReport) {
			for _, fn := range observers {
				fn(r)
			}
		})
	}

	src, err := openSource(o, stdin)
	if err != nil {
		return err
	}
	defer src.Close()
	dec := ingest.NewDecoder(src)

	monitoring.Logf("run %s: skeleton %d nodes", core.RunID(), len(core.Nodes()))
	var stats ingest.Stats
	if o.live {
		stats, err = ingest.Live(ctx, core, dec, timeutil.RealClock{}, fcfg.GetFuseInterval())
	} else {
		stats, err = ingest.Replay(ctx, core, dec, o.frame)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	printSummary(stdout, core, stats)
	if rec != nil {
		if err := writeReports(rec, o.reportDir, cfg.Calibration.Threshold); err != nil {
			return err
		}
	}
	return nil
}

func openSource(o options, stdin io.Reader) (io.ReadCloser, error) {
	switch {
	case o.serial != "":
		return ingest.OpenSerial(o.serial, ingest.PortOptions{BaudRate: o.baud})
	case o.input == "-":
		return io.NopCloser(stdin), nil
	default:
		f, err := os.Open(o.input)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		return f, nil
	}
}

func printSummary(w io.Writer, core *pipeline.Core, stats ingest.Stats) {
	correlated, calibrated := core.Stable()
	ref, _ := core.Reference()
	fmt.Fprintf(w, "run %s\n", core.RunID())
	fmt.Fprintf(w, "records=%d refused=%d cycles=%d correlated=%v calibrated=%v reference=%s\n",
		stats.Records, stats.Refused, stats.Cycles, correlated, calibrated, ref)
	for _, res := range core.CalibrationResults() {
		t := res.Transform.Translation
		fmt.Fprintf(w, "calibration %s->%s pairs=%d stable=%v rmse=%.4f uncertainty=%.4f grade=%s t=(%.4f, %.4f, %.4f)\n",
			res.Systems[0], res.Systems[1], res.PairCount, res.Stable, res.Quality, res.Uncertainty, res.Grade(), t.X, t.Y, t.Z)
	}
	for _, node := range core.Nodes() {
		s, err := core.WorldState(node)
		if err != nil || !s.Valid {
			continue
		}
		fmt.Fprintf(w, "node %s t=%.3f p=(%.4f, %.4f, %.4f)\n", node, s.Timestamp, s.Position.X, s.Position.Y, s.Position.Z)
	}
}

func writeReports(rec *report.Recorder, dir string, threshold float64) error {
	n, err := rec.PlotCalibrationConvergence(dir, threshold)
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "trajectories.html"))
	if err != nil {
		return fmt.Errorf("create trajectories page: %w", err)
	}
	defer f.Close()
	if err := rec.RenderTrajectories(f); err != nil {
		return fmt.Errorf("render trajectories: %w", err)
	}
	for _, s := range rec.Summaries() {
		monitoring.Logf("track %s: samples=%d mean=(%.3f, %.3f, %.3f) mean step=%.4f",
			s.Node, s.Samples, s.Mean.X, s.Mean.Y, s.Mean.Z, s.MeanStep)
	}
	monitoring.Logf("wrote %d calibration plots and trajectories.html to %s", n, dir)
	return nil
}
