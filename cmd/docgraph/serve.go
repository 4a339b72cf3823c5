package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/hanpama/docgraph/internal/config"
	"github.com/hanpama/docgraph/internal/docresolver"
	"github.com/hanpama/docgraph/internal/docstore"
	"github.com/hanpama/docgraph/internal/docstore/badgerstore"
	"github.com/hanpama/docgraph/internal/docstore/mongostore"
	"github.com/hanpama/docgraph/internal/docstore/pgstore"
	"github.com/hanpama/docgraph/internal/eventbus"
	"github.com/hanpama/docgraph/internal/executor"
	"github.com/hanpama/docgraph/internal/logging"
	"github.com/hanpama/docgraph/internal/metrics"
	"github.com/hanpama/docgraph/internal/otel"
	"github.com/hanpama/docgraph/internal/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the GraphQL HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address", Sources: cli.EnvVars("DOCGRAPH_ADDR")},
			&cli.StringFlag{Name: "path", Usage: "GraphQL endpoint path", Sources: cli.EnvVars("DOCGRAPH_PATH")},
			&cli.DurationFlag{Name: "timeout", Usage: "per-request timeout", Sources: cli.EnvVars("DOCGRAPH_TIMEOUT")},
			&cli.BoolFlag{Name: "pretty", Usage: "indent JSON responses", Sources: cli.EnvVars("DOCGRAPH_PRETTY")},
			&cli.BoolFlag{Name: "graphiql", Usage: "serve GraphiQL to browsers", Sources: cli.EnvVars("DOCGRAPH_GRAPHIQL")},
			&cli.StringSliceFlag{Name: "cors-origin", Usage: "allowed CORS origin, repeatable (* for any)", Sources: cli.EnvVars("DOCGRAPH_CORS_ORIGINS")},
			&cli.StringFlag{Name: "backend", Usage: "document store: badger, mongo or postgres", Sources: cli.EnvVars("DOCGRAPH_BACKEND")},
			&cli.StringFlag{Name: "data-dir", Usage: "badger data directory (empty: in memory)", Sources: cli.EnvVars("DOCGRAPH_DATA_DIR")},
			&cli.StringFlag{Name: "mongo-uri", Usage: "MongoDB connection string", Sources: cli.EnvVars("DOCGRAPH_MONGO_URI")},
			&cli.StringFlag{Name: "mongo-database", Usage: "MongoDB database", Sources: cli.EnvVars("DOCGRAPH_MONGO_DATABASE")},
			&cli.StringFlag{Name: "postgres-dsn", Usage: "PostgreSQL connection string", Sources: cli.EnvVars("DOCGRAPH_POSTGRES_DSN")},
			&cli.Int64Flag{Name: "max-conns", Usage: "store connection pool ceiling", Sources: cli.EnvVars("DOCGRAPH_MAX_CONNS")},
			&cli.Int64Flag{Name: "max-parallelism", Usage: "fields resolved concurrently across requests (0: inline)", Sources: cli.EnvVars("DOCGRAPH_MAX_PARALLELISM")},
			&cli.Int64Flag{Name: "cache-size", Usage: "validated documents kept (0: no cache)", Sources: cli.EnvVars("DOCGRAPH_CACHE_SIZE")},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Sources: cli.EnvVars("DOCGRAPH_LOG_LEVEL")},
			&cli.StringFlag{Name: "log-format", Usage: "json or console", Sources: cli.EnvVars("DOCGRAPH_LOG_FORMAT")},
			&cli.StringFlag{Name: "otel-endpoint", Usage: "OTLP gRPC collector host:port", Sources: cli.EnvVars("DOCGRAPH_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, ln)
		},
	}
}

// serve runs the gateway on ln until ctx is done.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	defer ln.Close()

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	eventbus.Use(eventbus.New())
	defer logging.Subscribe(log)()

	shutdown, err := otel.Setup(ctx, otel.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Service:     cfg.Tracing.Service,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	exec, err := buildExecutor(cfg, store)
	if err != nil {
		return err
	}
	defer exec.Close()

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithGraphiQL(cfg.Server.GraphiQL),
		server.WithLogger(log),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}

	routes := server.Routes{
		Path:   cfg.Server.Path,
		Ready:  store.Ping,
		Logger: log,
	}
	if cfg.Server.Metrics {
		m := metrics.New()
		m.WatchPool(store.Stats)
		defer m.Subscribe()()
		routes.Metrics = m.Handler()
	}

	log.Info("starting",
		zap.String("backend", store.Backend()),
		zap.String("schema", cfg.Schema.Path),
		zap.String("path", cfg.Server.Path),
	)
	return server.Serve(ctx, ln, server.NewRouter(server.New(exec, sopts...), routes), cfg.Server.ShutdownWait, log)
}

func buildExecutor(cfg *config.Config, store *docstore.Store) (*executor.Executor, error) {
	sdl, err := os.ReadFile(cfg.Schema.Path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s, err := docresolver.Build(string(sdl), store, nil,
		docresolver.WithDefaultPageSize(cfg.Schema.DefaultPageSize),
		docresolver.WithMaxPageSize(cfg.Schema.MaxPageSize),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Schema.Path, err)
	}
	return executor.New(s,
		executor.WithMaxParallelism(cfg.Executor.MaxParallelism),
		executor.WithCacheSize(cfg.Executor.CacheSize),
	)
}

// openStore connects the configured backend behind the pooled Store.
func openStore(ctx context.Context, c config.StoreConfig, log *zap.Logger) (*docstore.Store, error) {
	if c.MaxConns <= 0 || c.MaxConns > config.MaxStoreConns {
		return nil, fmt.Errorf("store pool size %d out of range [1, %d]", c.MaxConns, int64(config.MaxStoreConns))
	}
	var (
		d   docstore.Driver
		err error
	)
	switch c.Backend {
	case config.BackendBadger:
		d, err = badgerstore.Open(badgerstore.Options{Dir: c.Dir, Unique: c.Unique, Logger: log})
	case config.BackendMongo:
		d, err = mongostore.Open(ctx, mongostore.Options{
			URI:      c.URI,
			Database: c.Database,
			MaxConns: uint64(c.MaxConns),
			Unique:   c.Unique,
		})
	case config.BackendPostgres:
		d, err = pgstore.Open(ctx, pgstore.Options{
			DSN:      c.DSN,
			MaxConns: int32(c.MaxConns),
			Unique:   c.Unique,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Backend)
	}
	if err != nil {
		return nil, err
	}
	return docstore.New(d,
		docstore.WithMaxConns(c.MaxConns),
		docstore.WithAcquireTimeout(c.AcquireTimeout),
		docstore.WithOpTimeout(c.OpTimeout),
	), nil
}
