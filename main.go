package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WiesHerd/contractpipeline/audit"
	"github.com/WiesHerd/contractpipeline/config"
	"github.com/WiesHerd/contractpipeline/handler"
	"github.com/WiesHerd/contractpipeline/merge"
	"github.com/WiesHerd/contractpipeline/middleware"
	"github.com/WiesHerd/contractpipeline/notify"
	"github.com/WiesHerd/contractpipeline/packager"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/WiesHerd/contractpipeline/pkg/retry"
	"github.com/WiesHerd/contractpipeline/repository"
	"github.com/WiesHerd/contractpipeline/service"
	"github.com/WiesHerd/contractpipeline/storage"
	"github.com/gin-gonic/gin"
)

// repos is the repository set the services run on, Postgres or in-memory.
type repos struct {
	templates   repository.Templates
	providers   repository.Providers
	contracts   repository.Contracts
	audit       repository.AuditLog
	assignments repository.Assignments
	db          *sql.DB
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.Info("configuration loaded successfully")

	ctx := context.Background()

	data, err := openRepos(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize repositories", "error", err)
		os.Exit(1)
	}
	if data.db != nil {
		defer data.db.Close()
	}

	immutable, err := openImmutableStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize immutable store", "error", err)
		os.Exit(1)
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}
	storeOpts := []storage.Option{
		storage.WithRetry(policy),
		storage.WithTTLs(cfg.Links.ContractTTL, cfg.Links.GenericTTL),
	}
	if cfg.S3.Enabled {
		secondary, err := storage.NewS3Store(ctx, &cfg.S3)
		if err != nil {
			slog.Error("failed to initialize S3 store", "error", err)
			os.Exit(1)
		}
		storeOpts = append(storeOpts, storage.WithSecondary(secondary))
		slog.Info("secondary storage tier enabled", "bucket", cfg.S3.Bucket)
	}
	content := storage.NewContentStore(immutable, storeOpts...)

	formatter, err := merge.NewFormatter(cfg.Generation.Locale, cfg.Generation.Currency, time.Now)
	if err != nil {
		slog.Error("failed to initialize formatter", "error", err)
		os.Exit(1)
	}

	pkg, ready := newPackager(cfg, policy)
	recorder := audit.NewRecorder(data.audit)

	gen, err := service.NewGenerator(service.GeneratorDeps{
		Engine:    merge.NewEngine(formatter),
		Packager:  pkg,
		Store:     content,
		Contracts: data.contracts,
		Audit:     recorder,
		Batch: service.BatchConfig{
			Size:           cfg.Generation.BatchSize,
			Delay:          cfg.Generation.BatchDelay,
			MaxConcurrency: cfg.Generation.MaxConcurrency,
		},
	})
	if err != nil {
		slog.Error("failed to initialize generator", "error", err)
		os.Exit(1)
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.Notify.Enabled {
		sender = notify.NewHTTPSender(cfg.Notify.APIURL, cfg.Notify.APIToken, cfg.Notify.From, notify.WithRetry(policy))
	}

	jobs := service.NewJobRegistry(cfg.Store.MaxJobs, sender)
	sessions := service.NewSessions(data.assignments)
	tracker := service.NewTracker(data.templates, data.providers, recorder, cfg.Generation.BatchSize)
	templates := service.NewTemplateService(data.templates, data.contracts, recorder)

	contractHandler := handler.NewContractHandler(gen, jobs, tracker, templates, sessions)
	assignmentHandler := handler.NewAssignmentHandler(tracker, sessions)
	templateHandler := handler.NewTemplateHandler(templates)
	providerHandler := handler.NewProviderHandler(tracker)
	sessionHandler := handler.NewSessionHandler(sessions)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := ready(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(&cfg.Auth))
	api.Use(middleware.RateLimit(100, time.Minute))
	{
		api.POST("/contracts/generate", contractHandler.Generate)
		api.POST("/contracts/bulk", contractHandler.BulkGenerate)
		api.GET("/contracts/bulk/:jobId", contractHandler.BulkStatus)
		api.GET("/contracts/progress", contractHandler.Progress)
		api.GET("/contracts/download", contractHandler.Download)
		api.DELETE("/contracts/records", contractHandler.DeleteRecords)

		api.GET("/assignments", assignmentHandler.List)
		api.POST("/assignments/bulk", assignmentHandler.BulkAssign)
		api.POST("/assignments/clear", assignmentHandler.Clear)
		api.POST("/assignments/smart", assignmentHandler.SmartAssign)
		api.PUT("/assignments/selected", assignmentHandler.Select)
		api.GET("/assignments/:providerId", assignmentHandler.Resolve)
		api.PUT("/assignments/:providerId", assignmentHandler.Assign)
		api.DELETE("/assignments/:providerId", assignmentHandler.Unassign)

		api.GET("/templates", templateHandler.List)
		api.GET("/templates/:id", templateHandler.Get)
		api.PUT("/templates/:id", templateHandler.Save)
		api.DELETE("/templates/:id", templateHandler.Delete)

		api.GET("/providers", providerHandler.List)
		api.POST("/session/logout", sessionHandler.Logout)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("bulk jobs still running at shutdown")
	}

	slog.Info("server exited gracefully")
}

func openRepos(ctx context.Context, cfg *config.Config) (*repos, error) {
	if cfg.Database.DSN == "" {
		slog.Warn("no database configured, using in-memory repositories")
		mem := repository.NewMemory(cfg.Store.MaxJobs * 100)
		return &repos{
			templates:   mem.Templates,
			providers:   mem.Providers,
			contracts:   mem.Contracts,
			audit:       mem.Audit,
			assignments: mem.Assignments,
		}, nil
	}

	db, err := repository.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := repository.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database migrations applied")
	}
	pg := repository.NewPostgres(db)
	return &repos{
		templates:   pg.Templates,
		providers:   pg.Providers,
		contracts:   pg.Contracts,
		audit:       pg.Audit,
		assignments: pg.Assignments,
		db:          db,
	}, nil
}

func openImmutableStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.Minio.Endpoint == "" {
		slog.Warn("no minio endpoint configured, artifacts are kept in memory")
		return storage.NewMemoryStore(fmt.Sprintf("http://localhost:%d/objects", cfg.Server.Port)), nil
	}
	store, err := storage.NewMinioStore(&cfg.Minio)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}
	return store, nil
}

// newPackager picks the output format and returns the readiness check for /health.
func newPackager(cfg *config.Config, policy retry.Policy) (packager.Packager, func(context.Context) error) {
	docx := packager.NewDocxPackager()
	if strings.EqualFold(cfg.Generation.OutputFormat, "pdf") {
		pdf := packager.NewPDFPackager(cfg.Generation.ConverterURL, docx, packager.WithRetry(policy))
		slog.Info("packaging contracts as pdf", "converter", cfg.Generation.ConverterURL)
		return pdf, pdf.Ready
	}
	return docx, func(context.Context) error { return nil }
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Error-Kind, X-Contract-Id, X-Contract-Record-Id, X-Contract-Status, X-Contract-Hash, X-Contract-Warnings, X-Contract-Url, Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
