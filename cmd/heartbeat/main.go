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

	ConfigFile  string        `short:"c" long:"config"       env:"CONFIG_FILE"  description:"Path to configuration file (JSON or YAML)"`
	Tick        time.Duration `short:"t" long:"tick"         env:"HEARTBEAT_TICK" description:"How often the interval is checked" default:"1s"`
	MetricsAddr string        `short:"m" long:"metrics-addr" env:"METRICS_ADDR" description:"Serve /metrics on this address (overrides metrics.addr)"`
	Version     bool          `short:"V" long:"version"      description:"Print version and exit"`
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
		fmt.Printf("heartbeat %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
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

	loc, _ := time.LoadLocation(cfg.Heartbeat.Timezone)
	hb := heartbeat.New(mgr, cfg.Heartbeat.Table, loc, opts.Logger.New())

	log.Info().
		Str("addr", mgr.Addr()).
		Str("table", cfg.Heartbeat.Table).
		Dur("interval", cfg.Heartbeat.Interval).
		Str("version", version).
		Msg("Heartbeat started")

	hb.Loop(ctx, cfg.Heartbeat.Interval, opts.Tick)
	log.Info().Time("last", hb.Last()).Msg("Heartbeat stopped")
}
