package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"gabizap/internal/auth/credential"
	"gabizap/internal/auth/session"
	"gabizap/internal/auth/store/file"
	"gabizap/internal/auth/store/memory"
	redisstore "gabizap/internal/auth/store/redis"
	"gabizap/internal/capture/ingest"
	"gabizap/internal/platform/config"
	"gabizap/internal/platform/httpclient"
	"gabizap/internal/platform/logger"
	"gabizap/internal/platform/metrics"
	platformredis "gabizap/internal/platform/redis"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	creds    *credential.Client
	session  *session.Manager
	ingest   *ingest.Client
	closers  []func() error
}

func newApp(ctx context.Context, cfg config.Config, stderr io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      logger.NewWithWriter(stderr, cfg.Log.Level, cfg.Log.Format),
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.New(a.registry)

	policy, err := session.ParseRestorePolicy(cfg.RestorePolicy)
	if err != nil {
		return nil, err
	}

	store, err := a.tokenStore(ctx)
	if err != nil {
		return nil, err
	}

	// Separate breakers so an engine outage never blocks login.
	authHTTP, err := a.backendClient("credential")
	if err != nil {
		return nil, err
	}
	ingestHTTP, err := a.backendClient("ingest")
	if err != nil {
		return nil, err
	}

	a.creds = credential.New(authHTTP)
	a.session = session.New(store, a.creds,
		session.WithRestorePolicy(policy),
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
	)
	a.ingest = ingest.New(ingestHTTP, a.session)
	return a, nil
}

func (a *app) backendClient(name string) (*httpclient.Client, error) {
	return httpclient.New(name, a.cfg.API.BaseURL,
		httpclient.WithTimeout(a.cfg.API.Timeout),
		httpclient.WithBreakerStateHook(func(name string, from, to gobreaker.State) {
			a.log.Warn("backend circuit changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)
}

func (a *app) tokenStore(ctx context.Context) (session.TokenStore, error) {
	switch a.cfg.Store.Backend {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreRedis:
		client, err := platformredis.New(ctx, a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect token store: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return redisstore.New(client.Client, redisstore.WithTTL(a.cfg.Redis.TokenTTL)), nil
	default:
		return file.New(a.cfg.Store.Dir), nil
	}
}

// close releases resources and flushes metrics when a textfile path is configured.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if a.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
