package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/config"
	"github.com/xxxsen/recall/internal/handler"
	"github.com/xxxsen/recall/internal/job"
	"github.com/xxxsen/recall/internal/middleware"
	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/retrieval"
	"github.com/xxxsen/recall/internal/schedule"
)

const apiPrefix = "/api/v1"

func main() {
	_ = godotenv.Load()
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "recall memory and retrieval server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	load := func() (*config.Config, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run recall server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, _, err := openDB(cfg)
			if err != nil {
				return err
			}
			logutil.GetLogger(context.Background()).Info("migrations applied", zap.String("driver", cfg.Database.Driver))
			return conn.Close()
		},
	}

	var ingestOwner string
	ingestCmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "ingest local files as documents of one owner",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runIngest(cmd.Context(), cfg, ingestOwner, args)
		},
	}
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner id")
	_ = ingestCmd.MarkFlagRequired("owner")

	var (
		searchOwner string
		searchLimit int
	)
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "search an owner's documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cfg, searchOwner, args[0], searchLimit)
		},
	}
	searchCmd.Flags().StringVar(&searchOwner, "owner", "", "owner id")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max results")
	_ = searchCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(runCmd, migrateCmd, ingestCmd, searchCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runIngest(ctx context.Context, cfg *config.Config, ownerID string, paths []string) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	units := make([]model.RawUnit, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		st, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		units = append(units, model.RawUnit{
			ExternalID: abs,
			Title:      filepath.Base(p),
			Content:    string(raw),
			Timestamp:  st.ModTime().UnixMilli(),
		})
	}
	res, err := a.ingest.Ingest(ctx, ownerID, units)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runSearch(ctx context.Context, cfg *config.Config, ownerID, query string, limit int) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	items, err := a.ingest.Search(ctx, ownerID, query, retrieval.Options{Limit: limit})
	if err != nil {
		return err
	}
	return printJSON(items)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logutil.GetLogger(ctx)
	logger.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("file_store", cfg.FileStore.Type),
	)

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	if reset, err := a.candidates.ResetAnalyzing(ctx); err != nil {
		logger.Warn("reset interrupted analyses failed", zap.Error(err))
	} else if reset > 0 {
		logger.Info("reset interrupted analyses", zap.Int64("count", reset))
	}

	cron := schedule.NewCronScheduler()
	retryJob := job.NewEnrichRetryJob(a.triage, 0)
	if err := cron.AddJob(job.NewCachePruneJob(a.cacheRepo, cfg.EmbedCache.MaxAgeDays), cfg.Jobs.EmbeddingCachePrune); err != nil {
		return fmt.Errorf("schedule cache prune: %w", err)
	}
	if err := cron.AddJob(retryJob, cfg.Jobs.EnrichRetry); err != nil {
		return fmt.Errorf("schedule enrich retry: %w", err)
	}
	cron.Start(ctx)
	defer cron.Stop()
	go func() {
		if err := cron.Trigger(ctx, retryJob.Name()); err != nil {
			logger.Warn("initial enrich retry failed", zap.Error(err))
		}
	}()

	deps := handler.RouterDeps{
		Memory:    handler.NewMemoryHandler(a.memory),
		Documents: handler.NewDocumentHandler(a.ingest, cfg.MaxUpload),
		Triage:    handler.NewTriageHandler(a.triage, a.hub),
		Owner:     handler.NewOwnerHandler(a.owner),
		JWTSecret: []byte(cfg.JWTSecret),
		SyncEvery: time.Duration(cfg.RateLimit.SyncIntervalSeconds) * time.Second,
		SyncBurst: cfg.RateLimit.SyncBurst,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		apiPrefix,
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{apiPrefix + "/triage/events"})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}
