// redis-to-cluster copies keys between Redis stores or clusters, keeping
// their expiry.
//
// Usage:
//
//	redis-to-cluster --source URL --destination URL [flags]
//	redis-to-cluster --delete-dest --destination URL --prefix PATTERN [flags]
//
// Flags:
//
//	-s, --source string        Source connection string
//	-d, --destination string   Destination connection string
//	-p, --prefix string        Key pattern to migrate (default "*")
//	-w, --workers int          Concurrent workers (default 10)
//	-r, --overwrite            Replace keys that already exist on the destination
//	    --delete-dest          Delete matching keys from the destination instead
//	    --logging string       Log level: debug, info, warn, error (default "info")
//	    --logfile string       Append JSON logs to this file
//	    --config string        TOML config file
//	-q, --quiet                Only log warnings and errors
//	    --no-expiry string     Keys without expiry: default-ttl or persist (default "default-ttl")
//	    --default-ttl duration TTL for keys without expiry (default 2160h)
//	    --report-every int     Log progress every N keys, 0 disables (default 1000)
//	    --delete-delay duration Pause before deleting (default 10s)
//	    --scan-count int       SCAN COUNT hint (default 1000)
//	    --version              Show version and exit
//
// Connection strings look like redis://[:password@]host:port[/db]. Leaving
// out the db selects cluster mode; rediss enables TLS.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eager/redis-to-cluster/internal/config"
	"github.com/eager/redis-to-cluster/internal/connstr"
	"github.com/eager/redis-to-cluster/internal/logging"
	"github.com/eager/redis-to-cluster/internal/migrate"
	"github.com/eager/redis-to-cluster/internal/store"
	"github.com/eager/redis-to-cluster/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// flagValues holds what the command line set. Only flags the user changed
// are applied over the config file.
type flagValues struct {
	configPath  string
	source      string
	destination string
	prefix      string
	workers     int
	overwrite   bool
	deleteDest  bool
	logLevel    string
	logFile     string
	quiet       bool
	noExpiry    string
	defaultTTL  time.Duration
	reportEvery int
	deleteDelay time.Duration
	scanCount   int64
}

func newRootCmd() *cobra.Command {
	var fv flagValues
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "redis-to-cluster",
		Short: "Copy keys between Redis stores, preserving TTLs",
		Long: `Copy keys between Redis nodes or clusters, preserving TTLs.

Keys already present on the destination are skipped unless --overwrite is
given, so an interrupted run can simply be repeated. With --delete-dest the
matching keys are removed from the destination instead.

Connection strings: ` + connstr.Format,
		Version:       version.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(fv.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, fv)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&fv.configPath, "config", "", "TOML config file")
	f.StringVarP(&fv.source, "source", "s", "", "source connection string")
	f.StringVarP(&fv.destination, "destination", "d", "", "destination connection string")
	f.StringVarP(&fv.prefix, "prefix", "p", defaults.Prefix, "key pattern to migrate")
	f.IntVarP(&fv.workers, "workers", "w", defaults.Workers, "concurrent workers")
	f.BoolVarP(&fv.overwrite, "overwrite", "r", false, "replace keys that already exist on the destination")
	f.BoolVar(&fv.deleteDest, "delete-dest", false, "delete matching keys from the destination instead of migrating")
	f.StringVar(&fv.logLevel, "logging", defaults.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&fv.logFile, "logfile", "", "append JSON logs to this file")
	f.BoolVarP(&fv.quiet, "quiet", "q", false, "only log warnings and errors")
	f.StringVar(&fv.noExpiry, "no-expiry", defaults.NoExpiry, "keys without expiry: default-ttl or persist")
	f.DurationVar(&fv.defaultTTL, "default-ttl", defaults.DefaultTTL, "TTL for keys without expiry under default-ttl")
	f.IntVar(&fv.reportEvery, "report-every", defaults.ReportEvery, "log progress every N keys, 0 disables")
	f.DurationVar(&fv.deleteDelay, "delete-delay", defaults.DeleteDelay, "pause before deleting, interrupt to abort")
	f.Int64Var(&fv.scanCount, "scan-count", defaults.ScanCount, "SCAN COUNT hint")
	f.SortFlags = false

	return cmd
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, fv flagValues) {
	f := cmd.Flags()
	if f.Changed("source") {
		cfg.Source = fv.source
	}
	if f.Changed("destination") {
		cfg.Destination = fv.destination
	}
	if f.Changed("prefix") {
		cfg.Prefix = fv.prefix
	}
	if f.Changed("workers") {
		cfg.Workers = fv.workers
	}
	if f.Changed("overwrite") {
		cfg.Overwrite = fv.overwrite
	}
	if f.Changed("delete-dest") {
		cfg.DeleteDest = fv.deleteDest
	}
	if f.Changed("logging") {
		cfg.LogLevel = fv.logLevel
	} else if fv.quiet {
		cfg.LogLevel = "warn"
	}
	if f.Changed("logfile") {
		cfg.LogFile = fv.logFile
	}
	if f.Changed("no-expiry") {
		cfg.NoExpiry = fv.noExpiry
	}
	if f.Changed("default-ttl") {
		cfg.DefaultTTL = fv.defaultTTL
	}
	if f.Changed("report-every") {
		cfg.ReportEvery = fv.reportEvery
	}
	if f.Changed("delete-delay") {
		cfg.DeleteDelay = fv.deleteDelay
	}
	if f.Changed("scan-count") {
		cfg.ScanCount = fv.scanCount
	}
}

func run(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: stderr,
	})
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer closer.Close()
	logger = logger.With().Str("run", uuid.NewString()).Logger()

	policy, err := migrate.ParseNoExpiryPolicy(cfg.NoExpiry)
	if err != nil {
		return err
	}
	dstOpts, err := connstr.Parse(cfg.Destination)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	var srcOpts connstr.Options
	if !cfg.DeleteDest {
		if srcOpts, err = connstr.Parse(cfg.Source); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}

	opts := migrate.Options{
		Pattern:        cfg.Prefix,
		Workers:        cfg.Workers,
		Overwrite:      cfg.Overwrite,
		NoExpiry:       policy,
		DefaultTTL:     cfg.DefaultTTL,
		ReportEvery:    cfg.ReportEvery,
		DequeueTimeout: cfg.DequeueTimeout,
		DeleteDelay:    cfg.DeleteDelay,
		DeleteSample:   cfg.DeleteSample,
	}
	if cfg.LogFile != "" {
		opts.Notice = stderr
	}
	if f, ok := stderr.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		opts.Countdown = f
	}

	copts := store.ClientOptions{
		PoolSize:     max(cfg.Workers, store.DefaultClientOptions().PoolSize),
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ScanCount:    cfg.ScanCount,
	}

	dst := openStore(logger, "destination", dstOpts, copts)
	defer dst.Close()

	var sum migrate.Summary
	if cfg.DeleteDest {
		sum, err = migrate.New(nil, dst, opts, logger).DeleteDestination(ctx)
	} else {
		src := openStore(logger, "source", srcOpts, copts)
		defer src.Close()
		sum, err = migrate.New(src, dst, opts, logger).Migrate(ctx)
	}
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
		return err
	}
	if sum.Errored > 0 {
		logger.Warn().Int("errored", sum.Errored).Msg("some keys failed, re-run with the same prefix to retry them")
	}
	return nil
}

func openStore(logger zerolog.Logger, role string, opts connstr.Options, copts store.ClientOptions) *store.RedisHandle {
	h := store.Open(opts, copts)
	ev := logger.Info().Str("role", role).Stringer("addr", h)
	if h.Cluster() {
		ev.Msg("using cluster mode")
	} else {
		ev.Int("db", *opts.DB).Msg("using single-node mode")
	}
	return h
}
