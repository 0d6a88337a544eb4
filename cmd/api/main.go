package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/bryanwahyu/homeguard/internal/application"
	"github.com/bryanwahyu/homeguard/internal/application/analysis"
	"github.com/bryanwahyu/homeguard/internal/application/uploads"
	"github.com/bryanwahyu/homeguard/internal/config"
	"github.com/bryanwahyu/homeguard/internal/domain/faults"
	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
	openaiclient "github.com/bryanwahyu/homeguard/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/homeguard/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/homeguard/internal/infra/db/postgres"
	"github.com/bryanwahyu/homeguard/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/homeguard/internal/infra/storage"
	"github.com/bryanwahyu/homeguard/internal/infra/store/memory"
	"github.com/bryanwahyu/homeguard/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()
	clock := application.SystemClock{}

	// init session store
	var (
		store    sessions.Store
		faultLog faults.Recorder
		checkers = map[string]middleware.HealthChecker{}
	)
	switch cfg.Store.Driver {
	case "memory":
		store = memory.New(clock, cfg.SessionTTL())
		faultLog = memory.NewFaultLog(clock, 100)
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		defer db.Close()
		store = mysqlp.NewSessionRepository(db, clock, cfg.SessionTTL())
		faultLog = mysqlp.NewFaultRepository(db)
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		defer db.Close()
		store = postgresp.NewSessionRepository(db, clock, cfg.SessionTTL())
		faultLog = postgresp.NewFaultRepository(db)
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	default:
		log.Fatalf("unknown store driver: %s", cfg.Store.Driver)
	}

	// init minio
	objects, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init openai
	aiClient := openaiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.ReportModel, cfg.OpenAI.VisionModel)

	// init services
	uploadSvc := &uploads.Service{
		Store:     store,
		Objects:   objects,
		Clock:     clock,
		MaxImages: cfg.Session.MaxImages,
		MaxBytes:  cfg.Session.MaxImageBytes,
	}
	analysisSvc := &analysis.Service{
		Store:       store,
		Objects:     objects,
		Reports:     aiClient,
		Describer:   aiClient,
		Faults:      faultLog,
		Clock:       clock,
		BatchCap:    cfg.Session.BatchCap,
		Multipliers: cfg.Risk.LocationMultipliers,
	}

	// init router
	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(cfg.Server.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillRate))
	mux.Mount("/", httpserver.NewRouter(store, uploadSvc, analysisSvc, faultLog, checkers))

	// evict expired sessions in the background
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := store.Sweep(sweepCtx)
				if err != nil {
					log.Printf("sweep error: %v", err)
					continue
				}
				middleware.AddSessionsSwept(n)
				if n > 0 {
					log.Printf("swept %d expired sessions", n)
				}
			}
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // analyze blocks on the model round trip
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
