// Package logging builds the zap logger and logs request, operation and store
// events from the global bus.
package logging

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanpama/docgraph/internal/docstore"
	eventbus "github.com/hanpama/docgraph/internal/eventbus"
	events "github.com/hanpama/docgraph/internal/events"
	reqid "github.com/hanpama/docgraph/internal/reqid"
)

// Config selects the level and the encoding.
type Config struct {
	// Level is a zap level name such as "debug" or "info".
	Level string
	// Format is "json" or "console".
	Format string
}

// New builds a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	var zc zap.Config
	switch cfg.Format {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log format %q: want json or console", cfg.Format)
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// Subscribe logs finished requests at info, operations and store calls at
// debug, and failures at warn.
func Subscribe(log *zap.Logger) (unsubscribe func()) {
	subs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			level := zapcore.InfoLevel
			if e.Status >= 500 {
				level = zapcore.WarnLevel
			}
			log.Log(level, "http request",
				requestID(ctx),
				zap.String("method", e.Request.Method),
				zap.String("path", e.Request.URL.Path),
				zap.Int("status", e.Status),
				zap.Int("operations", e.Operations),
				zap.Duration("duration", e.Duration),
			)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			fields := []zap.Field{
				requestID(ctx),
				zap.String("operation", e.OperationName),
				zap.String("type", e.OperationType),
				zap.Int("errors", len(e.Errors)),
				zap.Duration("duration", e.Duration),
			}
			switch {
			case e.Err != nil && !errors.Is(e.Err, context.Canceled):
				log.Warn("graphql operation failed", append(fields, zap.Error(e.Err))...)
			default:
				log.Debug("graphql operation", fields...)
			}
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.StoreFinish) {
			fields := []zap.Field{
				requestID(ctx),
				zap.String("backend", e.Backend),
				zap.String("operation", e.Operation),
				zap.String("collection", e.Collection),
				zap.Duration("wait", e.Wait),
				zap.Duration("duration", e.Duration),
			}
			if e.Err != nil && !expected(e.Err) {
				log.Warn("store operation failed", append(fields, zap.Error(e.Err))...)
				return
			}
			log.Debug("store operation", fields...)
		}),
	}
	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}

func requestID(ctx context.Context) zap.Field {
	id, ok := reqid.FromContext(ctx)
	if !ok {
		return zap.Skip()
	}
	return zap.String("request_id", id)
}

// expected reports errors that are part of normal traffic.
func expected(err error) bool {
	var conflict *docstore.ConflictError
	return errors.Is(err, docstore.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &conflict)
}
