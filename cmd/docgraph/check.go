package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hanpama/docgraph/internal/docresolver"
	"github.com/hanpama/docgraph/internal/docstore"
	"github.com/hanpama/docgraph/internal/docstore/badgerstore"
	"github.com/hanpama/docgraph/internal/schema"
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the schema and its store directives, then print the registered SDL",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sdl, err := os.ReadFile(cfg.Schema.Path)
			if err != nil {
				return fmt.Errorf("read schema: %w", err)
			}

			// Binding never touches the store; an in-memory one stands in.
			d, err := badgerstore.Open(badgerstore.Options{})
			if err != nil {
				return err
			}
			store := docstore.New(d)
			defer store.Close(ctx)

			s, err := docresolver.Build(string(sdl), store, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", cfg.Schema.Path, err)
			}
			_, err = fmt.Fprint(cmd.Root().Writer, schema.Render(s))
			return err
		},
	}
}
