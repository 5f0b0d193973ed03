package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/pspoerri/eovpipes/internal/config"
	"github.com/pspoerri/eovpipes/internal/heartbeat"
	"github.com/pspoerri/eovpipes/internal/logger"
	"github.com/pspoerri/eovpipes/internal/metrics"
	"github.com/pspoerri/eovpipes/internal/postgres"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type Options struct {
	Logger logger.Options `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"      env:"CONFIG_FILE" description:"Path to configuration file (JSON or YAML)"`
	Once       bool   `long:"once"                  description:"Run a single sync even if sync.interval is set"`
	DumpConfig bool   `long:"dump-config"           description:"Print the effective configuration as YAML and exit"`
	Version    bool   `short:"V" long:"version"     description:"Print version and exit"`
}

func main() {
	// .env is optional; it must be loaded before go-flags and viper read the environment.
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("eovsync %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.DumpConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("Failed to dump configuration")
		}
		return
	}
	if cfg.Sync.SourceTable == "" {
		log.Fatal().Msg("sync.source_table is not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, opts.Logger.ForPipe("metrics")); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	mgr := postgres.NewManager(cfg.Postgres, opts.Logger.New())
	defer mgr.Close()

	// Validate already checked the zone name.
	loc, _ := time.LoadLocation(cfg.Heartbeat.Timezone)
	hb := heartbeat.New(mgr, cfg.Heartbeat.Table, loc, opts.Logger.New())

	source, closeSource := sourceFor(cfg, mgr, opts.Logger.New())
	defer closeSource()

	s := newSyncer(cfg.Sync, source, mgr, hb, cfg.Heartbeat.Interval, opts.Logger.New())

	log.Info().
		Str("source", cfg.Sync.Source+":"+cfg.Sync.SourceTable).
		Str("target", cfg.Sync.TargetTable).
		Str("direction", cfg.Sync.Direction).
		Dur("interval", cfg.Sync.Interval).
		Str("version", version).
		Msg("Starting sync")

	if opts.Once || cfg.Sync.Interval <= 0 {
		if err := s.runOnce(ctx); err != nil {
			log.Fatal().Err(err).Msg("Sync failed")
		}
		return
	}
	s.loop(ctx, cfg.Sync.Interval)
	log.Info().Msg("Sync stopped")
}
