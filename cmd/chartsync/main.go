package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/pipeline"
	"github.com/aluiziolira/go-chart-sync/publish"
)

type options struct {
	configFile string
	source     string
	verbose    bool

	dataset       string
	downloadDir   string
	policy        string
	delay         time.Duration
	timeout       time.Duration
	flushEach     bool
	exports       []string
	metricsAddr   string
	pushgateway   string
	publishBucket string
	publishPrefix string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chartsync",
		Short:         "chartsync keeps periodic chart datasets up to date.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger, level := newLogger(opts.verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "JSON5 config file (a <name>.local.<ext> file overrides it)")
	root.PersistentFlags().StringVar(&opts.source, "source", "album", "Source preset: album, daily or weekly")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(newSyncCmd(opts), newPlanCmd(opts), newIngestCmd(opts))
	return root
}

func newSyncCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the missing periods and merge them into the dataset.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg, false)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.dataset, "dataset", "", "Dataset CSV path")
	flags.StringVar(&opts.downloadDir, "download-dir", "", "Directory of intermediate period files")
	flags.StringVar(&opts.policy, "policy", "", "Failure policy: best-effort, stop or all-or-nothing")
	flags.DurationVar(&opts.delay, "delay", 0, "Delay between period fetches")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Timeout of a single fetch")
	flags.BoolVar(&opts.flushEach, "flush-each", false, "Save the dataset after every merged period")
	flags.StringSliceVar(&opts.exports, "export", nil, "Extra export formats: json, parquet")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&opts.pushgateway, "pushgateway", "", "Prometheus Pushgateway URL")
	flags.StringVar(&opts.publishBucket, "publish-bucket", "", "S3 bucket the dataset is uploaded to after a save")
	flags.StringVar(&opts.publishPrefix, "publish-prefix", "", "S3 key prefix for published files")
	return cmd
}

func newPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the periods a sync would fetch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}
			s, err := pipeline.NewSyncer(cfg)
			if err != nil {
				return err
			}
			plan, err := s.Plan(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Source:        %s\n", cfg.Source)
			fmt.Fprintf(out, "Dataset:       %s\n", cfg.DatasetPath)
			last := plan.LastCovered.Format(cfg.PeriodLayout)
			if plan.FromEpoch {
				last += " (epoch)"
			}
			fmt.Fprintf(out, "Last covered:  %s\n", last)
			fmt.Fprintf(out, "Cutoff:        %s\n", plan.Cutoff.Format("2006-01-02"))
			if len(plan.Periods) == 0 {
				fmt.Fprintln(out, "Up to date")
				return nil
			}
			fmt.Fprintf(out, "Periods (%d):\n", len(plan.Periods))
			for _, p := range plan.Periods {
				fmt.Fprintf(out, "  %s\n", p.Format(cfg.PeriodLayout))
			}
			return nil
		},
	}
}

func newIngestCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Merge period files already in the download directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg, true)
		},
	}
	cmd.Flags().StringVar(&opts.dataset, "dataset", "", "Dataset CSV path")
	cmd.Flags().StringVar(&opts.downloadDir, "download-dir", "", "Directory of intermediate period files")
	cmd.Flags().StringSliceVar(&opts.exports, "export", nil, "Extra export formats: json, parquet")
	return cmd
}

// buildConfig layers the preset or config file, CHARTSYNC_* variables and
// the flags set on cmd, in that order.
func buildConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.Load(opts.configFile, opts.source)
	} else {
		cfg, err = config.Preset(opts.source)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("dataset") {
		cfg.DatasetPath = opts.dataset
	}
	if flags.Changed("download-dir") {
		cfg.DownloadDir = opts.downloadDir
	}
	if flags.Changed("policy") {
		cfg.FailurePolicy = config.FailurePolicy(strings.ToLower(opts.policy))
	}
	if flags.Changed("delay") {
		cfg.Delay = opts.delay
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("flush-each") {
		cfg.FlushEachPeriod = opts.flushEach
	}
	if flags.Changed("export") {
		cfg.Exports = opts.exports
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if flags.Changed("pushgateway") {
		cfg.PushgatewayURL = opts.pushgateway
	}
	if flags.Changed("publish-bucket") {
		cfg.PublishBucket = opts.publishBucket
	}
	if flags.Changed("publish-prefix") {
		cfg.PublishPrefix = opts.publishPrefix
	}
	cfg.Verbose = opts.verbose

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runSync(ctx context.Context, cfg *config.Config, ingest bool) error {
	metrics := pipeline.NewMetrics()
	syncOpts := []pipeline.Option{
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(slog.Default()),
	}
	if cfg.PublishBucket != "" {
		publisher, err := publish.NewS3Publisher(ctx, cfg.PublishBucket, cfg.PublishPrefix)
		if err != nil {
			return err
		}
		syncOpts = append(syncOpts, pipeline.WithPublisher(publisher))
	}

	s, err := pipeline.NewSyncer(cfg, syncOpts...)
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting sync",
		slog.String("source", cfg.Source),
		slog.String("dataset", cfg.DatasetPath),
		slog.String("policy", string(cfg.FailurePolicy)),
		slog.Bool("ingest", ingest),
	)

	var result *models.SyncResult
	if ingest {
		result, err = s.Ingest(ctx)
	} else {
		result, err = s.Run(ctx)
	}
	if result != nil {
		printSummary(os.Stdout, result)
	}
	return err
}

func printSummary(w io.Writer, result *models.SyncResult) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Sync %s\n", result.Outcome)

	fmt.Fprintf(w, "  Source:        %s\n", result.Source)
	fmt.Fprintf(w, "  Last covered:  %s\n", result.LastCovered)
	fmt.Fprintf(w, "  Planned:       %d\n", len(result.Planned))
	fmt.Fprintf(w, "  Merged:        %d\n", len(result.Merged))
	fmt.Fprintf(w, "  Failed:        %d\n", len(result.Failed))
	for _, f := range result.Failed {
		fmt.Fprintf(w, "    %s (%s): %s\n", f.Period, f.Step, f.Error)
	}
	fmt.Fprintf(w, "  Rows:          %d accepted, %d dropped\n", result.RowsAccepted, result.RowsDropped)
	if len(result.DroppedByType) > 0 {
		fmt.Fprintf(w, "  Drop types:    %v\n", result.DroppedByType)
	}
	fmt.Fprintf(w, "  Records:       %d inserted, %d updated, %d duplicates\n", result.Inserted, result.Updated, result.Duplicates)
	fmt.Fprintf(w, "  Retries:       %d fetch, %d auth\n", result.FetchRetries, result.AuthRetries)
	fmt.Fprintf(w, "  Dataset size:  %d\n", result.DatasetSize)
	fmt.Fprintf(w, "  Saved:         %t\n", result.Saved)
	fmt.Fprintf(w, "  Output file:   %s\n", result.DatasetPath)
	for _, p := range result.Exports {
		fmt.Fprintf(w, "  Export:        %s\n", p)
	}
	if !result.EndTime.IsZero() {
		fmt.Fprintf(w, "  Duration:      %v\n", result.EndTime.Sub(result.StartTime))
	}
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
