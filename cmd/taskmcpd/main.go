// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// taskmcpd is the reference daemon: the durable task and workflow core
// served over the MCP stdio transport, with a selectable storage backend.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/tombee/taskcore/internal/mcpserver"
	"github.com/tombee/taskcore/pkg/auth"
	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/observability"
	"github.com/tombee/taskcore/pkg/task"
	"github.com/tombee/taskcore/pkg/task/backend"
	"github.com/tombee/taskcore/pkg/task/backend/docstore"
	"github.com/tombee/taskcore/pkg/task/backend/memory"
	"github.com/tombee/taskcore/pkg/task/backend/rkv"
	"github.com/tombee/taskcore/pkg/task/router"
	"github.com/tombee/taskcore/pkg/workflow/engine"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type options struct {
	backendType      string
	redisAddr        string
	redisPassword    string
	redisDB          int
	dynamoTable      string
	workflowsDir     string
	jwtIssuer        string
	logLevel         string
	metricsAddr      string
	traceExporter    string
	otlpEndpoint     string
	otlpInsecure     bool
	defaultTTL       time.Duration
	cleanupInterval  time.Duration
	maxVariableBytes int
	casRetries       int
	createsPerMinute int
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "taskmcpd",
		Short:        "Durable task and workflow MCP server",
		Long:         "taskmcpd serves the durable task store, task router and workflow engine over the MCP stdio transport.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.backendType, "backend", "memory", "Storage backend (memory, redis, dynamodb)")
	flags.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "Redis address for the redis backend")
	flags.StringVar(&opts.redisPassword, "redis-password", "", "Redis password")
	flags.IntVar(&opts.redisDB, "redis-db", 0, "Redis database number")
	flags.StringVar(&opts.dynamoTable, "dynamodb-table", "tasks", "DynamoDB table for the dynamodb backend")
	flags.StringVar(&opts.workflowsDir, "workflows-dir", "", "Directory of YAML workflow definitions to register as prompts")
	flags.StringVar(&opts.jwtIssuer, "jwt-issuer", "", "Required issuer for bearer-token owner resolution")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
	flags.StringVar(&opts.traceExporter, "trace-exporter", "", "Span exporter (console, otlp-grpc, otlp-http; empty disables)")
	flags.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP collector endpoint")
	flags.BoolVar(&opts.otlpInsecure, "otlp-insecure", false, "Disable TLS on the OTLP connection")
	flags.DurationVar(&opts.defaultTTL, "default-ttl", 0, "Default TTL for new task records (0 means never expire)")
	flags.DurationVar(&opts.cleanupInterval, "cleanup-interval", time.Minute, "Sweep interval for backends without native TTL")
	flags.IntVar(&opts.maxVariableBytes, "max-variable-bytes", 0, "Per-record serialized variables ceiling (0 means the default)")
	flags.IntVar(&opts.casRetries, "cas-retries", 0, "CAS retry budget before surfacing a version conflict (0 means the default)")
	flags.IntVar(&opts.createsPerMinute, "creates-per-minute", 0, "Rate limit for tasks_create (0 means the default)")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	provider, err := observability.NewProvider(ctx, observability.Config{
		ServiceName:    "taskmcpd",
		ServiceVersion: version,
		Exporter:       observability.ExporterKind(opts.traceExporter),
		Endpoint:       opts.otlpEndpoint,
		Insecure:       opts.otlpInsecure,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("observability shutdown failed", slog.Any("error", err))
		}
	}()

	be, err := newBackend(ctx, opts, logger)
	if err != nil {
		return err
	}

	store := task.NewStore(be, task.Config{
		MaxVariableSizeBytes: opts.maxVariableBytes,
		CASRetryBudget:       opts.casRetries,
		DefaultTTL:           opts.defaultTTL,
		Logger:               logger,
		Metrics:              provider.Collector(),
	})

	registry := engine.NewRegistry()
	if opts.workflowsDir != "" {
		if err := loadWorkflows(registry, opts.workflowsDir, logger); err != nil {
			return err
		}
	}

	rtr := router.New(store, registry, logger).WithMetrics(provider.Collector())
	tools := engine.NewToolSet()
	eng := engine.New(store, tools, nil, logger).
		WithMetrics(provider.Collector()).
		WithTracer(provider.Tracer("taskcore.engine"))

	srv := mcpserver.New(mcpserver.Config{
		Name:             "taskmcpd",
		Version:          version,
		Logger:           logger,
		CreatesPerMinute: opts.createsPerMinute,
	}, rtr, auth.NewResolver(auth.Config{
		Secret: []byte(os.Getenv("TASKMCPD_JWT_SECRET")),
		Issuer: opts.jwtIssuer,
	}))

	for _, name := range registry.Names() {
		def, _ := registry.Lookup(name)
		srv.RegisterWorkflowPrompt(def, eng, "Task-aware workflow "+name)
	}

	if opts.metricsAddr != "" {
		go serveMetrics(opts.metricsAddr, provider, logger)
	}

	go sweepExpired(ctx, be, opts.cleanupInterval, logger)

	logger.Info("starting taskmcpd",
		slog.String("version", version),
		slog.String("backend", opts.backendType),
		slog.Int("workflows", len(registry.Names())))

	return srv.Serve()
}

// newLogger writes to stderr: the MCP stdio protocol owns stdout.
func newLogger(levelStr string) (*slog.Logger, error) {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, &taskerrors.ConfigError{
			Key:    "log-level",
			Reason: fmt.Sprintf("invalid level %q (must be debug, info, warn, or error)", levelStr),
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// redisPingTimeout bounds the startup connectivity probe against the redis
// backend.
const redisPingTimeout = 5 * time.Second

func newBackend(ctx context.Context, opts *options, logger *slog.Logger) (backend.Backend, error) {
	switch opts.backendType {
	case "memory", "":
		return memory.New(), nil

	case "redis":
		s := rkv.NewFromAddr(opts.redisAddr, opts.redisPassword, opts.redisDB)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) {
				return nil, &taskerrors.TimeoutError{Operation: "redis ping", Duration: redisPingTimeout, Cause: err}
			}
			return nil, taskerrors.Wrap(err, "redis ping")
		}
		logger.Info("connected to redis", slog.String("addr", opts.redisAddr))
		return s, nil

	case "dynamodb":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, &taskerrors.ConfigError{Key: "backend", Reason: "load AWS config", Cause: err}
		}
		logger.Info("using dynamodb", slog.String("table", opts.dynamoTable))
		return docstore.New(dynamodb.NewFromConfig(cfg), opts.dynamoTable), nil

	default:
		return nil, &taskerrors.ConfigError{
			Key:    "backend",
			Reason: fmt.Sprintf("unknown backend %q (must be memory, redis, or dynamodb)", opts.backendType),
		}
	}
}

func loadWorkflows(registry *engine.Registry, dir string, logger *slog.Logger) error {
	patterns := []string{"*.yaml", "*.yml"}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return fmt.Errorf("scan workflows dir: %w", err)
		}
		for _, path := range matches {
			def, err := engine.ParseDefinitionFile(path)
			if err != nil {
				return fmt.Errorf("workflow %s: %w", path, err)
			}
			if err := registry.Register(def); err != nil {
				return fmt.Errorf("workflow %s: %w", path, err)
			}
			logger.Info("registered workflow",
				slog.String("name", def.Name), slog.String("path", path))
		}
	}
	return nil
}

func serveMetrics(addr string, provider *observability.Provider, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.MetricsHandler())
	logger.Info("serving metrics", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", slog.Any("error", err))
	}
}

// sweepExpired periodically runs the backend's TTL sweep. Backends with
// native expiration report zero work; the in-memory backend relies on this.
func sweepExpired(ctx context.Context, be backend.Backend, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := be.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("TTL sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Debug("TTL sweep removed expired tasks", slog.Int("count", n))
			}
		}
	}
}
