// Package config loads the gateway settings from a YAML file. Command-line
// flags and DOCGRAPH_* environment variables override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendBadger   = "badger"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config represents docgraph.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Schema   SchemaConfig   `yaml:"schema"`
	Executor ExecutorConfig `yaml:"executor"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig holds the HTTP transport settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	Path         string        `yaml:"path"`
	Timeout      time.Duration `yaml:"timeout"`
	ShutdownWait time.Duration `yaml:"shutdownWait"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
	CORSOrigins  []string      `yaml:"corsOrigins,omitempty"`
	GraphiQL     bool          `yaml:"graphiql"`
	Pretty       bool          `yaml:"pretty"`
	Metrics      bool          `yaml:"metrics"`
}

// StoreConfig selects and tunes the document store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Dir is the badger data directory. Empty keeps data in memory.
	Dir string `yaml:"dir,omitempty"`
	// URI is the MongoDB connection string.
	URI      string `yaml:"uri,omitempty"`
	Database string `yaml:"database,omitempty"`
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn,omitempty"`

	MaxConns       int64         `yaml:"maxConns"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	OpTimeout      time.Duration `yaml:"opTimeout"`

	// Unique lists the unique fields per collection.
	Unique map[string][]string `yaml:"unique,omitempty"`
}

// SchemaConfig points at the SDL and sets the list page sizes.
type SchemaConfig struct {
	Path            string `yaml:"path"`
	DefaultPageSize int    `yaml:"defaultPageSize"`
	MaxPageSize     int    `yaml:"maxPageSize"`
}

// ExecutorConfig tunes query execution.
type ExecutorConfig struct {
	// MaxParallelism bounds concurrently resolving fields. Zero resolves inline.
	MaxParallelism int64 `yaml:"maxParallelism"`
	// CacheSize is the number of validated documents kept. Zero disables the cache.
	CacheSize int64 `yaml:"cacheSize"`
}

// MaxStoreConns is the largest pool every backend accepts.
const MaxStoreConns = math.MaxInt32

// LogConfig is passed to logging.New.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig is passed to otel.Setup. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Service     string  `yaml:"service"`
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Default returns the settings used for anything the file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			Path:         "/graphql",
			Timeout:      10 * time.Second,
			ShutdownWait: 10 * time.Second,
			MaxBodyBytes: 1 << 20,
			GraphiQL:     true,
			Metrics:      true,
		},
		Store: StoreConfig{
			Backend:        BackendBadger,
			MaxConns:       16,
			AcquireTimeout: 2 * time.Second,
			OpTimeout:      5 * time.Second,
		},
		Schema: SchemaConfig{
			Path:            "schema.graphql",
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Executor: ExecutorConfig{
			MaxParallelism: int64(16 * runtime.GOMAXPROCS(0)),
			CacheSize:      1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Service:     "docgraph",
			SampleRatio: 1,
		},
	}
}

// DefaultFiles are the names Find looks for in the working directory.
var DefaultFiles = []string{"docgraph.yaml", "docgraph.yml"}

// Find returns the first of DefaultFiles that exists, or "".
func Find() string {
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads path over Default. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are errors.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(strings.HasPrefix(c.Server.Path, "/"), "server.path %q must start with /", c.Server.Path)
	check(c.Server.Timeout > 0, "server.timeout must be positive")
	check(c.Server.MaxBodyBytes > 0, "server.maxBodyBytes must be positive")
	check(c.Server.ShutdownWait >= 0, "server.shutdownWait must not be negative")

	switch c.Store.Backend {
	case BackendBadger:
	case BackendMongo:
		check(c.Store.URI != "", "store.uri is required for %s", BackendMongo)
		check(c.Store.Database != "", "store.database is required for %s", BackendMongo)
	case BackendPostgres:
		check(c.Store.DSN != "", "store.dsn is required for %s", BackendPostgres)
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want %s, %s or %s",
			c.Store.Backend, BackendBadger, BackendMongo, BackendPostgres))
	}
	check(c.Store.MaxConns > 0, "store.maxConns must be positive")
	check(c.Store.MaxConns <= MaxStoreConns, "store.maxConns %d exceeds %d", c.Store.MaxConns, int64(MaxStoreConns))
	check(c.Store.AcquireTimeout > 0, "store.acquireTimeout must be positive")
	check(c.Store.OpTimeout > 0, "store.opTimeout must be positive")

	check(c.Schema.Path != "", "schema.path is required")
	check(c.Schema.DefaultPageSize > 0, "schema.defaultPageSize must be positive")
	check(c.Schema.MaxPageSize >= c.Schema.DefaultPageSize,
		"schema.maxPageSize %d is below defaultPageSize %d", c.Schema.MaxPageSize, c.Schema.DefaultPageSize)

	check(c.Executor.MaxParallelism >= 0, "executor.maxParallelism must not be negative")
	check(c.Executor.CacheSize >= 0, "executor.cacheSize must not be negative")

	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1,
		"tracing.sampleRatio %v must be within [0, 1]", c.Tracing.SampleRatio)

	return errors.Join(errs...)
}
