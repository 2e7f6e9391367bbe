package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/topicwatch/topicwatch/server/internal/api"
	"github.com/topicwatch/topicwatch/server/internal/auth"
	"github.com/topicwatch/topicwatch/server/internal/config"
	"github.com/topicwatch/topicwatch/server/internal/discovery"
	"github.com/topicwatch/topicwatch/server/internal/foxglove"
	"github.com/topicwatch/topicwatch/server/internal/metrics"
	"github.com/topicwatch/topicwatch/server/internal/natsgraph"
	"github.com/topicwatch/topicwatch/server/internal/notify"
	"github.com/topicwatch/topicwatch/server/internal/registry"
	"github.com/topicwatch/topicwatch/server/internal/schema"
	"github.com/topicwatch/topicwatch/server/internal/ws"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run discovery and serve the topic list over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("TOPICWATCH_CONFIG"),
				Value:   "config.yaml",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"))
		},
	}
}

func serve(parent context.Context, configPath string) error {
	slog.Info("topicwatch starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"source", sc.Discovery.Source,
		"poll_interval", sc.Discovery.PollInterval,
		"grace_period", sc.Discovery.GracePeriod,
	)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New()
	m := metrics.New()
	notifier := notify.New(sc.Notify)

	// Schema cache, restored from disk when a directory is configured.
	schemas := schema.NewCache(afero.NewOsFs(), sc.Schema.Dir)
	if n, err := schemas.Load(); err != nil {
		slog.Warn("schema: restore failed", "dir", sc.Schema.Dir, "err", err)
	} else if n > 0 {
		slog.Info("schema: restored records", "count", n)
	}

	src, stopSource, err := buildSource(ctx, sc.Discovery)
	if err != nil {
		return err
	}
	defer stopSource()

	filter, err := discovery.NewFilter(sc.Discovery.Include, sc.Discovery.Exclude)
	if err != nil {
		return err
	}

	poller := discovery.NewPoller(src, reg,
		discovery.WithInterval(sc.Discovery.PollInterval),
		discovery.WithGracePeriod(sc.Discovery.GracePeriod),
		discovery.WithFilter(filter),
		discovery.WithSchemaSink(schemas),
		discovery.WithNotifier(notifier),
		discovery.WithRecorder(m),
		discovery.WithSourceName(sc.Discovery.Source),
	)
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()

	// Hot reload: filter and grace period apply from the next poll. Source,
	// port and auth changes need a restart.
	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			d := next.Server.Discovery
			f, err := discovery.NewFilter(d.Include, d.Exclude)
			if err != nil {
				slog.Error("config: reload rejected", "err", err)
				return
			}
			poller.SetFilter(f)
			poller.SetGracePeriod(d.GracePeriod)
			slog.Info("config: reloaded discovery settings",
				"grace_period", d.GracePeriod,
				"include", len(d.Include),
				"exclude", len(d.Exclude),
			)
		})
		if err != nil {
			slog.Warn("config: watch disabled", "err", err)
		}
	}()

	// WebSocket hub, broadcasting the topic snapshot every stream interval.
	hub := ws.New(reg, sc.Stream.Interval, ws.WithClientGauge(m.SetWSClients))
	go hub.Run(ctx)

	requireKey := auth.APIKey(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", requireKey(api.New(reg,
		api.WithStatus(poller),
		api.WithSchemas(schemas),
		api.WithEvents(notifier),
	)))
	httpMux.Handle("/ws/topics", requireKey(hub))
	httpMux.Handle("/metrics", m.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		cancel()
		<-pollerDone
		notifier.Close()
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("topicwatch shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	// The poller is the only caller of TopicsChanged; once it has returned no
	// new delivery can start, and Close waits for the ones in flight.
	<-pollerDone
	notifier.Close()
	return nil
}

// buildSource creates the configured discovery source and starts whatever
// background connection it needs. The returned stop func releases it.
func buildSource(ctx context.Context, d config.DiscoveryConfig) (discovery.Source, func(), error) {
	switch d.Source {
	case "foxglove":
		client := foxglove.New(d.Foxglove.URL)
		go client.Run(ctx)
		slog.Info("discovery: using foxglove bridge", "url", d.Foxglove.URL)
		return client, func() {}, nil

	case "nats":
		nc, err := natsgraph.Connect(d.NATS.URL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("discovery: using nats graph", "url", d.NATS.URL, "subject", d.NATS.Subject)
		return natsgraph.New(nc, d.NATS.Subject, d.NATS.Timeout), func() { closeNATS(nc) }, nil

	case "static":
		slog.Info("discovery: using static topic list", "count", len(d.Static))
		return discovery.NewStatic(d.Static), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown discovery source %q", d.Source)
	}
}

func closeNATS(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		nc.Close()
	}
}
