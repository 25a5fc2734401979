package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/maneesh/filedrop/internal/config"
	"github.com/maneesh/filedrop/internal/handlers"
	"github.com/maneesh/filedrop/internal/janitor"
	"github.com/maneesh/filedrop/internal/retrieval"
	"github.com/maneesh/filedrop/internal/storage"
	"github.com/maneesh/filedrop/internal/tracing"
	"github.com/maneesh/filedrop/internal/upload"
)

func main() {
	log.Println("Starting filedrop service...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Service: %s, Listen: %s, Max upload: %d MiB, Expirations: %v",
		cfg.ServiceName, cfg.ListenAddr, cfg.MaxUploadSizeMB, cfg.AllowedMinutes())

	// Initialize OpenTelemetry tracing
	shutdownTracer := tracing.Noop
	if cfg.TracingEnabled {
		shutdownTracer, err = tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Initialize MinIO client
	log.Println("Connecting to MinIO...")
	minioClient, err := storage.NewMinioClient(
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO client: %v", err)
	}
	log.Println("MinIO client initialized")

	var opts []upload.Option
	sweep := janitor.Config{
		Interval:   cfg.JanitorInterval,
		StaleAfter: cfg.SessionStaleAfter,
		Store:      minioClient,
	}

	// Initialize TiDB client
	if cfg.TiDBEnabled {
		log.Println("Connecting to TiDB...")
		tidbClient, err := storage.NewTiDBClient(cfg.GetDSN())
		if err != nil {
			log.Fatalf("Failed to initialize TiDB client: %v", err)
		}
		defer tidbClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = tidbClient.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to create TiDB schema: %v", err)
		}

		opts = append(opts, upload.WithLedger(tidbClient))
		sweep.Expired = tidbClient
		log.Println("TiDB client initialized")
	}

	// Initialize Redis client
	if cfg.RedisEnabled {
		log.Println("Connecting to Redis...")
		redisClient, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to initialize Redis client: %v", err)
		}
		defer redisClient.Close()

		opts = append(opts, upload.WithSessionTracker(redisClient))
		sweep.Sessions = redisClient
		log.Println("Redis client initialized")
	}

	coordinator := upload.NewCoordinator(minioClient, cfg.IDLength, cfg.GetPartSizeBytes(), opts...)
	policy := retrieval.NewPolicy(minioClient)

	// Initialize handlers
	indexHandler, err := handlers.NewIndexHandler(cfg.AllowedMinutes(), cfg.GetMaxUploadBytes())
	if err != nil {
		log.Fatalf("Failed to render index page: %v", err)
	}
	writeHandler, err := handlers.NewWriteHandler(coordinator, cfg, cfg.GetMaxUploadBytes())
	if err != nil {
		log.Fatalf("Failed to initialize upload handler: %v", err)
	}
	readHandler := handlers.NewReadHandler(policy)

	router := handlers.NewRouter(indexHandler, writeHandler, readHandler)

	// No WriteTimeout: uploads stream for as long as the client sends
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go janitor.Run(ctx, sweep)

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
