package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pricecast/internal/chart"
	"pricecast/internal/config"
	"pricecast/internal/forecast"
	"pricecast/internal/logging"
	"pricecast/internal/metrics"
	"pricecast/internal/pipeline"
	"pricecast/internal/provider"
	"pricecast/internal/runner"
	"pricecast/internal/scheduler"
	"pricecast/internal/store"
	"pricecast/internal/web"
)

const dateLayout = "2006-01-02"

var (
	cfgFile string
	verbose bool

	windowLength int
	epochs       int
	batchSize    int
	trainStart   string
	trainEnd     string
	testEnd      string
	format       string
	outDir       string
	noChart      bool
	rows         int

	port  int
	limit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pricecast",
		Short: "LSTM closing-price forecaster",
		Long: `Pricecast trains an LSTM on a symbol's daily closing prices and
predicts the closes of a later testing range.

Examples:
  pricecast predict AAPL
  pricecast predict TSLA --window 30 --epochs 10 --format json
  pricecast serve --port 8080
  pricecast runs --limit 10`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "show debug logging")

	predictCmd := &cobra.Command{
		Use:   "predict SYMBOL",
		Short: "Train on a symbol and predict its testing range",
		Args:  cobra.ExactArgs(1),
		RunE:  runPredict,
	}
	predictCmd.Flags().IntVar(&windowLength, "window", 0, "prediction window length in days (default from config)")
	predictCmd.Flags().IntVar(&epochs, "epochs", 0, "training epochs (default from config)")
	predictCmd.Flags().IntVar(&batchSize, "batch", 0, "training batch size (default from config)")
	predictCmd.Flags().StringVar(&trainStart, "train-start", "", "first training date, YYYY-MM-DD")
	predictCmd.Flags().StringVar(&trainEnd, "train-end", "", "end of training and start of testing, YYYY-MM-DD")
	predictCmd.Flags().StringVar(&testEnd, "test-end", "", "end of testing range, YYYY-MM-DD (default today)")
	predictCmd.Flags().StringVar(&format, "format", "", "output format: table, json")
	predictCmd.Flags().StringVar(&outDir, "out", "", "chart output directory")
	predictCmd.Flags().BoolVar(&noChart, "no-chart", false, "skip writing the chart")
	predictCmd.Flags().IntVar(&rows, "rows", 10, "number of trailing predictions shown in table output")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled runs",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	runsCmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	rootCmd.AddCommand(predictCmd, serveCmd, runsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every command
func setup() (*config.Config, zerolog.Logger, func() error, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, logger, closeLog, nil
}

// interruptContext cancels on SIGINT/SIGTERM
func interruptContext(onSignal func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			if onSignal != nil {
				onSignal()
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	// Override config with CLI flags
	if windowLength != 0 {
		cfg.Training.WindowLength = windowLength
	}
	if epochs != 0 {
		cfg.Training.Epochs = epochs
	}
	if batchSize != 0 {
		cfg.Training.BatchSize = batchSize
	}
	if trainStart != "" {
		cfg.Training.TrainStart = trainStart
	}
	if trainEnd != "" {
		cfg.Training.TrainEnd = trainEnd
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if noChart {
		cfg.Output.Chart = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	req, err := runner.RequestFromConfig(cfg, args[0], time.Now())
	if err != nil {
		return err
	}
	if testEnd != "" {
		if req.TestEnd, err = time.Parse(dateLayout, testEnd); err != nil {
			return fmt.Errorf("parsing --test-end: %w", err)
		}
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	loader := buildLoader(cfg, false)
	m := runner.NewManager(loader, modelFactory(cfg, logger), st, runner.WithLogger(logger))

	ctx, cancel := interruptContext(func() {
		fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping run...")
	})
	defer cancel()

	fmt.Fprintf(os.Stderr, "Training %s on %s..%s (window %d, %d epochs, batch %d)\n",
		req.Symbol, req.TrainStart.Format(dateLayout), req.TrainEnd.Format(dateLayout),
		req.WindowLength, req.Epochs, req.BatchSize)

	bar := newEpochBar(req.Epochs)
	_, result, err := m.Run(ctx, req, func(p pipeline.Progress) {
		bar.Set(p.Epoch + 1)
	})
	if err != nil {
		bar.Exit()
		fmt.Fprintln(os.Stderr)
		return err
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	if cfg.Output.Chart {
		path, err := chart.SavePNG(result, cfg.Output.Dir)
		if err != nil {
			return fmt.Errorf("writing chart: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Chart saved to %s\n", path)
	}

	if cfg.Output.Format == "json" {
		return outputResultJSON(result)
	}
	return outputResultTable(result, rows)
}

func newEpochBar(epochs int) *progressbar.ProgressBar {
	return progressbar.NewOptions(epochs,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := runner.NewManager(buildLoader(cfg, cfg.Data.Cache), modelFactory(cfg, logger), st,
		runner.WithLogger(logger),
		runner.WithObserver(metrics.New(reg)),
		runner.WithMaxRuns(cfg.Server.MaxRuns),
	)

	var sched *scheduler.Scheduler
	if cfg.Schedule.Cron != "" {
		sched = scheduler.New(cfg, m, logger)
		if err := sched.Register(); err != nil {
			return err
		}
		sched.Start()
	}

	srv := web.NewServer(cfg, m, reg, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Port)
	}()

	ctx, cancel := interruptContext(nil)
	defer cancel()

	select {
	case err := <-errCh:
		if sched != nil {
			sched.Stop()
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if sched != nil {
		<-sched.Stop().Done()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	return m.Shutdown(shutdownCtx)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Store.Path == "" {
		return fmt.Errorf("run history is disabled (store.path is empty)")
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return outputRunsTable(runs)
}

// buildLoader chains the CSV directory, Yahoo and Alpha Vantage; unconfigured
// sources are dropped by the fallback provider.
func buildLoader(cfg *config.Config, cache bool) provider.Loader {
	providers := []provider.Provider{
		provider.NewCSVProvider(cfg.Data.CSVDir),
		provider.NewYahooProvider(
			provider.WithRateLimit(cfg.Data.YahooRateLimit),
			provider.WithTimeout(cfg.Data.Timeout),
		),
		provider.NewAlphaVantageProvider(cfg.Data.AlphaVantageKey, cfg.Data.AlphaVantageRateLimit),
	}

	var loader provider.Loader = provider.NewFallbackProvider(providers...)
	if cache {
		loader = provider.NewCachingProvider(loader,
			provider.WithCacheTTL(cfg.Data.CacheTTL),
			provider.WithCacheSize(cfg.Data.CacheSize),
		)
	}
	return loader
}

func modelFactory(cfg *config.Config, logger zerolog.Logger) forecast.Factory {
	lc := forecast.DefaultLSTMConfig()
	lc.Units = cfg.Training.Units
	lc.LearningRate = cfg.Training.LearningRate
	lc.Seed = cfg.Training.Seed
	return func() forecast.Model {
		return forecast.NewLSTM(lc, logger)
	}
}

func openStore(cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return store.NoopStore{}, nil
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	return st, nil
}
