package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/orchestrator/internal/adapter/filestore"
	cfnats "github.com/Strob0t/orchestrator/internal/adapter/nats"
	"github.com/Strob0t/orchestrator/internal/adapter/natskv"
	"github.com/Strob0t/orchestrator/internal/adapter/postgres"
	"github.com/Strob0t/orchestrator/internal/config"
	"github.com/Strob0t/orchestrator/internal/port/statestore"
)

// infra holds the external connections shared by serve and the CLI commands.
type infra struct {
	backend statestore.Backend // nil for the memory backend
	pool    *pgxpool.Pool
	queue   *cfnats.Queue
}

// openInfra connects to whatever the config asks for. NATS is dialled when a
// URL is set or the snapshot lives in JetStream KV; postgres only for the
// postgres backend.
func openInfra(ctx context.Context, cfg *config.Config, migrate bool) (*infra, error) {
	in := &infra{}

	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		in.queue = q
	}

	switch cfg.Storage.Backend {
	case config.StorageFile:
		in.backend = filestore.New(cfg.Storage.Path)
		slog.Info("snapshot storage", "backend", "file", "path", cfg.Storage.Path)

	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			in.close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		in.pool = pool
		if migrate {
			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				in.close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied")
		}
		in.backend = postgres.NewSnapshotStore(pool)
		slog.Info("snapshot storage", "backend", "postgres")

	case config.StorageNATSKV:
		if in.queue == nil {
			return nil, errors.New("natskv storage requires nats.url")
		}
		kv, err := in.queue.KeyValue(ctx, cfg.Storage.KVBucket, 0)
		if err != nil {
			in.close()
			return nil, fmt.Errorf("nats kv: %w", err)
		}
		in.backend = natskv.New(kv)
		slog.Info("snapshot storage", "backend", "natskv", "bucket", cfg.Storage.KVBucket)

	case config.StorageMemory:
		slog.Warn("snapshot storage disabled, state is lost on restart")
	}

	return in, nil
}

func (in *infra) close() {
	if in.queue != nil {
		if err := in.queue.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
	if in.pool != nil {
		in.pool.Close()
	}
}
