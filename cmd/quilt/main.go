// Command quilt is the quilt-1m dataset toolbox: parallel image-dimension
// statistics over a directory tree, plus the caption CSV tooling that
// prepares image/caption training pairs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/minha12/quilt-1m/internal/api"
	"github.com/minha12/quilt-1m/internal/captions"
	"github.com/minha12/quilt-1m/internal/config"
	"github.com/minha12/quilt-1m/internal/db"
	"github.com/minha12/quilt-1m/internal/scan"
	"github.com/minha12/quilt-1m/internal/scheduler"
	"github.com/minha12/quilt-1m/internal/stats"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "stats":
		err = runStats(args)
	case "annotate":
		err = runAnnotate(args)
	case "pair":
		err = runPair(args)
	case "serve":
		err = runServe(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: quilt <command> [flags]

commands:
  stats     compute image dimension statistics for a directory tree
  annotate  write caption .txt files next to images from a lookup CSV
  pair      copy images with per-row caption files into an output directory
  serve     run the statistics service (HTTP API + scheduler + history DB)

run "quilt <command> -h" for command flags
`)
}

// runStats implements the one-shot statistics command:
// quilt stats [flags] <directory>
func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 1000, "number of images per worker batch")
	workers := fs.Int("workers", runtime.NumCPU(), "number of probe workers")
	walkers := fs.Int("walkers", 4, "number of concurrent directory walkers")
	memEfficient := fs.Bool("memory-efficient", false, "bound memory with reservoir sampling (approximate median)")
	sampleRate := fs.Float64("sample-rate", 1.0, "fraction of images to process (memory-efficient mode only)")
	reservoir := fs.Int("reservoir-size", 10000, "reservoir capacity for approximate median")
	output := fs.String("output", "image_stats.json", "output JSON file path")
	seed := fs.Uint64("seed", 0, "random seed for sampling (0 = time-seeded)")
	probeTimeout := fs.Duration("probe-timeout", 30*time.Second, "per-file probe time bound")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("stats: exactly one directory argument is required")
	}

	cfg := &config.Config{
		Root:            fs.Arg(0),
		OutputPath:      *output,
		BatchSize:       *batchSize,
		Workers:         *workers,
		Walkers:         *walkers,
		MemoryEfficient: *memEfficient,
		ReservoirSize:   *reservoir,
		SampleRate:      *sampleRate,
		Seed:            *seed,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("starting statistics run",
		"root", cfg.Root,
		"batch_size", cfg.BatchSize,
		"workers", cfg.Workers,
		"memory_efficient", cfg.MemoryEfficient,
		"sample_rate", cfg.SampleRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := &scan.Progress{}
	report := func(path, stage, errMsg string) {
		slog.Warn("file skipped", "stage", stage, "path", path, "error", errMsg)
	}

	runner := scan.NewRunner(scan.Config{
		Root:            cfg.Root,
		BatchSize:       cfg.BatchSize,
		Workers:         cfg.Workers,
		Walkers:         cfg.Walkers,
		MemoryEfficient: cfg.MemoryEfficient,
		ReservoirSize:   cfg.ReservoirSize,
		SampleRate:      cfg.SampleRate,
		ProbeTimeout:    *probeTimeout,
		Seed:            cfg.Seed,
	})

	summary, err := runner.Run(ctx, progress, report)
	if errors.Is(err, stats.ErrNoData) {
		// Not a failure: the directory just had nothing measurable.
		slog.Warn("no valid images processed; no output written", "root", cfg.Root)
		return nil
	}
	if err != nil {
		return err
	}

	if err := summary.WriteFile(cfg.OutputPath); err != nil {
		return err
	}

	slog.Info("results saved", "path", cfg.OutputPath)
	slog.Info("width",
		"min", summary.Width.Min, "max", summary.Width.Max,
		"mean", fmt.Sprintf("%.2f", summary.Width.Mean),
		"median", fmt.Sprintf("%.2f", summary.Width.Median),
		"std", fmt.Sprintf("%.2f", summary.Width.Std))
	slog.Info("height",
		"min", summary.Height.Min, "max", summary.Height.Max,
		"mean", fmt.Sprintf("%.2f", summary.Height.Mean),
		"median", fmt.Sprintf("%.2f", summary.Height.Median),
		"std", fmt.Sprintf("%.2f", summary.Height.Std))
	return nil
}

// runAnnotate implements: quilt annotate -csv lookup.csv -dir images/
func runAnnotate(args []string) error {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)
	csvPath := fs.String("csv", "", "lookup CSV with image_path and caption columns")
	dir := fs.String("dir", "", "directory holding the images (annotations are written here)")
	fs.Parse(args)

	if *csvPath == "" || *dir == "" {
		return errors.New("annotate: -csv and -dir are required")
	}

	lookup, rows, skipped, err := captions.LoadLookup(*csvPath)
	if err != nil {
		return err
	}
	slog.Info("lookup loaded", "rows", rows, "skipped_rows", skipped, "unique_images", len(lookup))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := captions.Annotate(ctx, lookup, *dir)
	if err != nil {
		return err
	}
	slog.Info("annotate finished",
		"images_found", st.ImagesFound,
		"txt_created", st.TxtCreated,
		"already_exists", st.AlreadyExists,
		"missing_caption", st.MissingCaption,
		"non_images_skipped", st.NonImageSkipped,
		"write_errors", st.WriteErrors)
	return nil
}

// runPair implements: quilt pair -csv lookup.csv -dir images/ -out paired/
func runPair(args []string) error {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	csvPath := fs.String("csv", "", "lookup CSV with image_path and caption columns")
	dir := fs.String("dir", "", "directory holding the source images")
	out := fs.String("out", "", "output directory for image/caption pairs")
	fs.Parse(args)

	if *csvPath == "" || *dir == "" || *out == "" {
		return errors.New("pair: -csv, -dir and -out are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := captions.Pair(ctx, *csvPath, *dir, *out)
	if err != nil {
		return err
	}
	slog.Info("pair finished",
		"pairs_created", st.PairsCreated,
		"missing_images", st.MissingImage,
		"skipped", st.Skipped,
		"errors", st.Errors)
	return nil
}

// runServe implements: quilt serve -config config.yaml
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("quilt serve starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"root", cfg.Root)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Mark any runs left 'running' by a crashed process as failed.
	if err := scan.MarkStaleRunsFailed(database); err != nil {
		slog.Warn("mark stale runs", "error", err)
	}

	mgr := scan.NewManager(database, scan.Config{
		Root:            cfg.Root,
		BatchSize:       cfg.BatchSize,
		Workers:         cfg.Workers,
		Walkers:         cfg.Walkers,
		MemoryEfficient: cfg.MemoryEfficient,
		ReservoirSize:   cfg.ReservoirSize,
		SampleRate:      cfg.SampleRate,
		ProbeTimeout:    cfg.ProbeTimeout(),
		Seed:            cfg.Seed,
	})

	sched := scheduler.New()
	if cfg.Schedule != "" {
		if err := sched.SetJob(cfg.Schedule, func() {
			slog.Info("scheduled statistics run triggered")
			if _, err := mgr.Start(context.Background(), "schedule"); err != nil {
				slog.Warn("scheduled run start", "error", err)
			}
		}); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(cfg.HTTPAddr, database, mgr, sched, version)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("quilt serve stopped")
	return nil
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
