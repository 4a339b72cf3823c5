// Command docgraph serves a GraphQL API over a document store described by an
// annotated SDL file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/hanpama/docgraph/internal/config"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "docgraph",
		Usage: "GraphQL gateway over a document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to docgraph.yaml (default: ./docgraph.yaml when present)",
				Sources: cli.EnvVars("DOCGRAPH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "schema",
				Aliases: []string{"s"},
				Usage:   "path to the annotated SDL",
				Sources: cli.EnvVars("DOCGRAPH_SCHEMA"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			checkCommand(),
		},
	}
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	if path == "" {
		path = config.Find()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("schema") {
		cfg.Schema.Path = cmd.String("schema")
	}
	if cmd.Name != "serve" {
		return
	}
	if cmd.IsSet("addr") {
		cfg.Server.Addr = cmd.String("addr")
	}
	if cmd.IsSet("path") {
		cfg.Server.Path = cmd.String("path")
	}
	if cmd.IsSet("timeout") {
		cfg.Server.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("pretty") {
		cfg.Server.Pretty = cmd.Bool("pretty")
	}
	if cmd.IsSet("graphiql") {
		cfg.Server.GraphiQL = cmd.Bool("graphiql")
	}
	if cmd.IsSet("cors-origin") {
		cfg.Server.CORSOrigins = cmd.StringSlice("cors-origin")
	}
	if cmd.IsSet("backend") {
		cfg.Store.Backend = cmd.String("backend")
	}
	if cmd.IsSet("data-dir") {
		cfg.Store.Dir = cmd.String("data-dir")
	}
	if cmd.IsSet("mongo-uri") {
		cfg.Store.URI = cmd.String("mongo-uri")
	}
	if cmd.IsSet("mongo-database") {
		cfg.Store.Database = cmd.String("mongo-database")
	}
	if cmd.IsSet("postgres-dsn") {
		cfg.Store.DSN = cmd.String("postgres-dsn")
	}
	if cmd.IsSet("max-conns") {
		cfg.Store.MaxConns = cmd.Int64("max-conns")
	}
	if cmd.IsSet("max-parallelism") {
		cfg.Executor.MaxParallelism = cmd.Int64("max-parallelism")
	}
	if cmd.IsSet("cache-size") {
		cfg.Executor.CacheSize = cmd.Int64("cache-size")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("otel-endpoint") {
		cfg.Tracing.Endpoint = cmd.String("otel-endpoint")
	}
}
