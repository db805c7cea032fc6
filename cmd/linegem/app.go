package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"linegem/internal/agent"
	"linegem/internal/channel"
	"linegem/internal/config"
	"linegem/internal/dedupe"
	"linegem/internal/domain"
	"linegem/internal/line"
	"linegem/internal/memory"
	"linegem/internal/metrics"
	"linegem/internal/provider"
	"linegem/internal/storage"
)

// app holds the process-scoped clients built once at startup.
type app struct {
	provider   domain.Provider
	dispatcher *agent.Dispatcher
	server     *channel.Server
	closers    []func() error
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	prov, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.provider = prov

	messenger := line.NewClient(line.ClientConfig{
		ChannelAccessToken: cfg.LINE.ChannelAccessToken,
		APIBase:            cfg.LINE.APIBase,
		DataAPIBase:        cfg.LINE.DataAPIBase,
		HTTPClient:         &http.Client{Timeout: seconds(cfg.LINE.TimeoutSeconds)},
		Logger:             logger,
	})
	if cfg.LINE.ChannelSecret == "" {
		logger.Warn("LINE channel secret not set, webhook signatures will not be verified")
	}

	objects, err := newObjectStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	records, err := newRecordStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, records.Close)

	deduper, closeDeduper, err := newDeduper(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeDeduper != nil {
		a.closers = append(a.closers, closeDeduper)
	}

	replies, err := agent.LoadReplies(cfg.General.RepliesFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.dispatcher = agent.NewDispatcher(agent.Config{
		Provider:  prov,
		Messenger: messenger,
		Storage:   objects,
		Records:   records,
		Deduper:   deduper,
		Replies:   &replies,
		Bucket:    cfg.Storage.Bucket,
		Prefix:    cfg.Storage.Prefix,
		Model:     cfg.AI.Model,
		Logger:    logger,
	})

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Collector.Handler()
	}
	a.server = channel.NewServer(channel.ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		WebhookPath:   cfg.Server.WebhookPath,
		Greeting:      cfg.Server.Greeting,
		ChannelSecret: cfg.LINE.ChannelSecret,
		Dispatcher:    a.dispatcher,
		Metrics:       metricsHandler,
		MetricsPath:   cfg.Metrics.Endpoint,
		Logger:        logger,
	})

	logger.Info("app ready",
		"provider", prov.Name(), "model", cfg.AI.Model,
		"storage", cfg.Storage.Backend, "records", cfg.Records.Backend, "dedupe", cfg.Dedupe.Backend)
	return a, nil
}

func newProvider(cfg *config.Config, logger *slog.Logger) (domain.Provider, error) {
	return provider.NewFactory(cfg.AI, logger).Provider()
}

func newObjectStore(cfg *config.Config, logger *slog.Logger) (domain.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return storage.NewLocal(storage.LocalConfig{
			Dir:        cfg.Storage.LocalDir,
			PublicBase: cfg.Storage.PublicBase,
			Logger:     logger,
		})
	case "supabase":
		return storage.NewSupabase(storage.SupabaseConfig{
			URL:        cfg.Supabase.URL,
			Key:        cfg.Supabase.Key,
			HTTPClient: &http.Client{Timeout: seconds(cfg.Supabase.TimeoutSeconds)},
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func newRecordStore(cfg *config.Config, logger *slog.Logger) (domain.RecordStore, error) {
	switch cfg.Records.Backend {
	case "sqlite":
		return memory.NewSQLiteStore(cfg.Records.DBPath, logger)
	case "supabase":
		return memory.NewSupabaseStore(memory.SupabaseStoreConfig{
			URL:        cfg.Supabase.URL,
			Key:        cfg.Supabase.Key,
			Table:      cfg.Records.Table,
			HTTPClient: &http.Client{Timeout: seconds(cfg.Supabase.TimeoutSeconds)},
			Logger:     logger,
		}), nil
	case "none":
		return memory.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown records backend: %s", cfg.Records.Backend)
	}
}

// newDeduper returns a nil Deduper for backend "none".
func newDeduper(ctx context.Context, cfg *config.Config) (domain.Deduper, func() error, error) {
	ttl := seconds(cfg.Dedupe.TTLSeconds)
	switch cfg.Dedupe.Backend {
	case "redis":
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		r, err := dedupe.NewRedis(pingCtx, cfg.Dedupe.RedisURL, ttl)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "memory":
		return dedupe.NewMemory(ttl), nil, nil
	default:
		return nil, nil, nil
	}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 30 * time.Second
	}
	return time.Duration(n) * time.Second
}
