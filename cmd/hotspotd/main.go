// hotspotd runs the streaming crash hotspot engine headless: events in from
// a replay file or a NATS subject, ranked hotspots and alerts out to NDJSON
// files, optionally mirrored to NATS and sqlite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arterial-data/hotspot.report/internal/config"
	"github.com/arterial-data/hotspot.report/internal/hotspot"
	"github.com/arterial-data/hotspot.report/internal/hotspot/hotspotdb"
	"github.com/arterial-data/hotspot.report/internal/transport"
	"github.com/arterial-data/hotspot.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to tuning JSON (defaults apply when omitted)")

	replayPath = flag.String("replay", "", "NDJSON event file to replay (mutually exclusive with -nats-url)")
	pace       = flag.Bool("pace", false, "Pace replay by event timestamp gaps")
	maxDelay   = flag.Duration("max-delay", 2*time.Second, "Cap on a single replay pacing delay")

	natsURL      = flag.String("nats-url", "", "NATS server URL for the event source")
	eventSubject = flag.String("event-subject", transport.DefaultEventSubject, "NATS subject carrying crash events")

	hotspotLog = flag.String("hotspot-log", "hotspots.ndjson", "File receiving per-tick hotspot snapshots")
	alertLog   = flag.String("alert-log", "alerts.ndjson", "File receiving alert emissions")

	publishNATS    = flag.Bool("publish-nats", false, "Also publish hotspots/alerts to NATS (requires -nats-url)")
	hotspotSubject = flag.String("hotspot-subject", transport.DefaultHotspotSubject, "NATS subject for hotspot snapshots")
	alertSubject   = flag.String("alert-subject", transport.DefaultAlertSubject, "NATS subject for alerts")

	dbPath        = flag.String("db", "", "Optional sqlite path persisting hotspots and alerts")
	metricsListen = flag.String("metrics-listen", "", "Optional listen address for /metrics")
	debug         = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hotspotd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	logger.Info().
		Str("version", version.Version).
		Str("git_sha", version.GitSHA).
		Str("build_time", version.BuildTime).
		Msg("hotspotd starting")

	if (*replayPath == "") == (*natsURL == "") {
		return fmt.Errorf("exactly one event source is required: -replay or -nats-url")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	fileSink, err := transport.NewFileSink(*hotspotLog, *alertLog)
	if err != nil {
		return err
	}
	defer fileSink.Close()

	hotspotSinks := hotspot.MultiHotspotSink{fileSink}
	alertSinks := hotspot.MultiAlertSink{fileSink}

	if *dbPath != "" {
		store, err := hotspotdb.Open(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		hotspotSinks = append(hotspotSinks, store)
		alertSinks = append(alertSinks, store)
	}

	if *publishNATS {
		if *natsURL == "" {
			return fmt.Errorf("-publish-nats requires -nats-url")
		}
		natsSink, err := transport.NewNATSSink(*natsURL, *hotspotSubject, *alertSubject, logger)
		if err != nil {
			return err
		}
		defer natsSink.Close()
		hotspotSinks = append(hotspotSinks, natsSink)
		alertSinks = append(alertSinks, natsSink)
	}

	registry := prometheus.NewRegistry()
	engine, err := hotspot.NewEngine(engineCfg, hotspotSinks, alertSinks, logger, registry)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if *metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsListen, Handler: mux}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return engine.Run(gctx) })

	if *replayPath != "" {
		g.Go(func() error {
			opts := transport.ReplayOptions{Pace: *pace, MaxDelay: *maxDelay}
			if err := transport.ReplayFile(gctx, *replayPath, opts, engine.Ingest, logger); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			// Replay exhausted: run one final tick so the tail of the file
			// is clustered, then wind the daemon down.
			engine.Tick(gctx)
			logger.Info().Interface("stats", engine.Stats()).Msg("replay complete")
			stop()
			return nil
		})
	} else {
		source, err := transport.NewNATSSource(*natsURL, *eventSubject, logger)
		if err != nil {
			return err
		}
		defer source.Close()
		g.Go(func() error { return source.Run(gctx, engine.Ingest) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := engine.Stats()
	logger.Info().
		Uint64("ingested", stats.Ingested).
		Uint64("malformed", stats.Malformed).
		Uint64("duplicates", stats.Duplicates).
		Uint64("ticks", stats.Ticks).
		Msg("shutdown complete")
	return nil
}
