package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/evstore/adapters/dynamodb"
	"github.com/codewandler/evstore/adapters/nats"
	"github.com/codewandler/evstore/adapters/pebble"
	"github.com/codewandler/evstore/adapters/postgres"
	"github.com/codewandler/evstore/adapters/sqlite"
	"github.com/codewandler/evstore/core/tipstore"
)

// tables is what a backend opened. archive is nil unless the backend was
// configured with one.
type tables struct {
	primary tipstore.Table
	archive tipstore.Table
}

func (t tables) storeOptions() []tipstore.StoreOption {
	if t.archive == nil {
		return nil
	}
	return []tipstore.StoreOption{tipstore.WithArchive(t.archive)}
}

// openTables opens the tables of the configured backend. The returned func
// releases them.
func openTables(ctx context.Context, cfg Config, log *slog.Logger) (tables, func(), error) {
	if cfg.Backend == backendNATS {
		return openNATS(cfg, log.With(slog.String("backend", cfg.Backend)))
	}
	t, release, err := openTable(ctx, cfg, log)
	return tables{primary: t}, release, err
}

// openNATS opens the primary bucket and, if configured, the archive bucket
// over one shared connection.
func openNATS(cfg Config, log *slog.Logger) (tables, func(), error) {
	connect := nats.ConnectDefault()
	if cfg.NATSURL != "" {
		connect = nats.ConnectURL(cfg.NATSURL)
	}
	connect = nats.ReuseConnection(connect)

	primary, err := nats.NewTable(nats.TableConfig{Connect: connect, Bucket: cfg.NATSBucket, Log: log})
	if err != nil {
		return tables{}, nil, err
	}
	if cfg.NATSArchiveBucket == "" {
		return tables{primary: primary}, primary.Close, nil
	}
	archive, err := nats.NewTable(nats.TableConfig{
		Connect: connect,
		Bucket:  cfg.NATSArchiveBucket,
		Log:     log.With(slog.String("role", "archive")),
	})
	if err != nil {
		primary.Close()
		return tables{}, nil, fmt.Errorf("open archive: %w", err)
	}
	return tables{primary: primary, archive: archive}, func() {
		archive.Close()
		primary.Close()
	}, nil
}

// openTable opens the table of the configured backend. The returned func
// releases it.
func openTable(ctx context.Context, cfg Config, log *slog.Logger) (tipstore.Table, func(), error) {
	log = log.With(slog.String("backend", cfg.Backend))
	nop := func() {}

	switch cfg.Backend {
	case backendMemory:
		return tipstore.NewMemoryTable(), nop, nil

	case backendNATS:
		t, release, err := openNATS(cfg, log)
		return t.primary, release, err

	case backendDynamoDB:
		client, err := dynamodb.NewClient(ctx, dynamodb.ClientConfig{
			Endpoint: cfg.DynamoEndpoint,
			Region:   cfg.DynamoRegion,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.DynamoCreateTable {
			if err := dynamodb.CreateTable(ctx, client, cfg.DynamoTable); err != nil {
				return nil, nil, err
			}
		}
		t, err := dynamodb.NewTable(dynamodb.TableConfig{Client: client, TableName: cfg.DynamoTable, Log: log})
		if err != nil {
			return nil, nil, err
		}
		return t, nop, nil

	case backendSQLite:
		t, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath, TableName: cfg.SQLTable, Log: log})
		if err != nil {
			return nil, nil, err
		}
		return t, closeLogged(log, t.Close), nil

	case backendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		t, err := postgres.NewTable(ctx, postgres.Config{
			Pool:         pool,
			TableName:    cfg.SQLTable,
			Log:          log,
			CreateSchema: true,
		})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return t, pool.Close, nil

	case backendPebble:
		mode, err := cfg.fsyncMode()
		if err != nil {
			return nil, nil, err
		}
		t, err := pebble.Open(pebble.Options{
			DataDir:       cfg.PebbleDir,
			Fsync:         mode,
			FsyncInterval: cfg.PebbleFsyncInterval,
			Log:           log,
		})
		if err != nil {
			return nil, nil, err
		}
		return t, closeLogged(log, t.Close), nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func closeLogged(log *slog.Logger, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			log.Error("close table", slog.Any("error", err))
		}
	}
}
