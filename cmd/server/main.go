package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/eventimport/internal/config"
	"github.com/JonMunkholm/eventimport/internal/core"
	"github.com/JonMunkholm/eventimport/internal/logging"
	"github.com/JonMunkholm/eventimport/internal/store/memory"
	"github.com/JonMunkholm/eventimport/internal/store/postgres"
	"github.com/JonMunkholm/eventimport/internal/store/sqlite"
	"github.com/JonMunkholm/eventimport/internal/web"
)

// store is what main needs from a repository backend.
type store interface {
	core.Store
	Close()
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"import_batch_size", cfg.Import.BatchSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	processor := core.NewProcessor(
		core.BcryptHasher{Cost: cfg.Import.BcryptCost},
		core.Slugger{},
		core.NanoidSecrets{},
		core.WithBatchSize(cfg.Import.BatchSize),
	)
	limiter := core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	service := core.NewService(st, processor, limiter, core.ServiceConfig{
		Parse: core.ParseOptions{
			MaxBytes:         cfg.Import.MaxFileSize,
			PreviewRows:      cfg.Import.PreviewRows,
			MappingThreshold: cfg.Import.MappingThreshold,
		},
		ImportTimeout: cfg.Import.Timeout,
	})

	types := service.ListImportTypes()
	names := make([]string, len(types))
	for i, def := range types {
		names[i] = string(def.Type)
	}
	slog.Info("import types registered", "count", len(types), "types", strings.Join(names, ","))

	server := web.NewServer(service, cfg)

	// Background maintenance stops with jobCtx.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartRetentionSweeper(jobCtx, core.RetentionConfig{
		RetentionDays: cfg.Retention.Days,
		CheckInterval: cfg.Retention.CheckInterval,
	})

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new import starts.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := service.QueueStatus()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("imports interrupted at shutdown", "error", err)
		} else {
			slog.Info("all imports completed")
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		return
	}
	<-shutdownDone
	slog.Info("server stopped")
}

// openStore connects the configured repository backend.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgres.Config{
			URL:             cfg.URL,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		if u, err := url.Parse(cfg.URL); err == nil {
			slog.Info("connected to database", "driver", cfg.Driver, "name", strings.TrimPrefix(u.Path, "/"))
		}
		return st, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to database", "driver", cfg.Driver, "path", cfg.SQLitePath)
		return st, nil

	case config.DriverMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
