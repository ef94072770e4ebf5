package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"ifubin/pkg/assemble"
	"ifubin/pkg/config"
	"ifubin/pkg/cubeio"
	"ifubin/pkg/pipeline"
	"ifubin/pkg/store"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))

	// A missing .env is fine; the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", "err", err)
	}

	defaultConfig := os.Getenv("IFUBIN_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}

	configPath := flag.String("config", defaultConfig, "Path to the YAML configuration file")
	runName := flag.String("run", "", "Process only the run with this name (default: all runs)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from configuration)")
	outputDir := flag.String("output", "", "Directory for the JSON products (default: from configuration)")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save intermediary results during processing")
	initConfig := flag.Bool("init", false, "Write a default configuration file and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			logger.Error("failed to write default configuration", "path", *configPath, "err", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration file", "path", *configPath, "err", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *saveIntermediary {
		cfg.Output.SaveIntermediaryResults = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.Output.LogLevel != "" {
		if err := logLevel.UnmarshalText([]byte(cfg.Output.LogLevel)); err != nil {
			logger.Error("invalid log level", "level", cfg.Output.LogLevel, "err", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *runName, logger); err != nil {
		logger.Error(err.Error())
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, runName string, logger *slog.Logger) error {
	runs := cfg.Runs
	if runName != "" {
		r, err := cfg.FindRun(runName)
		if err != nil {
			return err
		}
		runs = []config.Run{*r}
	}
	if len(runs) == 0 {
		return errors.New("no runs configured")
	}

	var catalogue *store.Store
	if cfg.Storage.DSN != "" {
		s, err := store.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer s.Close()
		catalogue = s
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for i := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := &runs[i]
		if err := processRun(ctx, cfg, r, catalogue, logger.With("run", r.Runname)); err != nil {
			return fmt.Errorf("run %s: %w", r.Runname, err)
		}
	}
	return nil
}

func processRun(ctx context.Context, cfg *config.Config, r *config.Run, catalogue *store.Store, logger *slog.Logger) error {
	path := r.CubeFile(cfg.Processing.DataDir)
	logger.Info("reading the datacube", "survey", r.Survey, "path", path)

	cube, err := cubeio.Read(r.Survey, path)
	if err != nil {
		return err
	}

	params := &pipeline.Params{
		Cube:                    cube,
		Run:                     cfg.PipelineRun(r),
		NumCores:                cfg.Processing.NumCores,
		Selection:               cfg.SelectionOptions(),
		Binning:                 cfg.BinningOptions(),
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         filepath.Join(cfg.Output.IntermediaryDir, r.Runname),
		Logger:                  logger,
	}
	p := pipeline.NewPipeline(params)
	p.SetProgressCallback(func(completed, total int, message string) {
		fmt.Printf("[%d/%d] %s\n", completed, total, message)
	})

	startTime := time.Now()
	out, err := p.Process()
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	productPath := filepath.Join(cfg.Output.Dir, r.Runname+".json")
	size, err := writeProduct(productPath, out)
	if err != nil {
		return err
	}

	if catalogue != nil {
		if err := catalogue.SaveRun(ctx, out); err != nil {
			return err
		}
		logger.Info("run stored in catalogue", "run_id", out.RunID)
	}

	printSummary(out, cube.NumSpaxels(), productPath, size, processingTime)
	return nil
}

// writeProduct writes out as indented JSON and returns the file size
func writeProduct(path string, out *assemble.Output) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create product file: %w", err)
	}
	defer file.Close()

	if err := encodePretty(file, out); err != nil {
		return 0, fmt.Errorf("failed to write product: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func printSummary(out *assemble.Output, nspax int, path string, size int64, elapsed time.Duration) {
	leftovers := 0
	for _, l := range out.Leftover {
		if l {
			leftovers++
		}
	}

	fmt.Printf("\nRun %s completed in %.2f seconds\n", out.Name, elapsed.Seconds())
	fmt.Printf("- Spaxels selected: %s of %s\n", humanize.Comma(int64(out.NSpec)), humanize.Comma(int64(nspax)))
	fmt.Printf("- Voronoi bins: %s (%d below target tolerance)\n", humanize.Comma(int64(out.NBins)), leftovers)
	fmt.Printf("- Log-rebinned pixels: %d (%d in mask), velscale %g km/s\n", out.NPixObs, out.NMask, out.Velscale)
	fmt.Printf("- Wavelength range: %.2f-%.2f A, scale factor %g\n", out.Lmin, out.Lmax, out.ScaleFactor)
	fmt.Printf("- Product: %s (%s)\n", path, humanize.Bytes(uint64(size)))
}
