// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"document-processing-service/internal/extract"
	"document-processing-service/internal/llm"
	"document-processing-service/internal/repository/postgresql"
	"document-processing-service/internal/service"
	"document-processing-service/internal/storage"
	httptransport "document-processing-service/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgDSN := mustEnv("POSTGRES_DSN")
	redisAddr := mustEnv("REDIS_ADDR")

	port := envOr("PORT", "8080")
	uploadDir := envOr("UPLOAD_DIR", "uploads")
	maxAttempts := envIntOr("EXTRACT_MAX_ATTEMPTS", 3)
	leaseTTL := envDurationOr("EXTRACT_LEASE_TTL", 10*time.Minute)

	// Postgres
	pool, err := postgresql.NewPool(ctx, pgDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	files, err := storage.NewDiskStore(uploadDir)
	if err != nil {
		log.Fatalf("upload dir: %v", err)
	}

	// DI
	repo := postgresql.NewDocumentRepository(pool)
	queue := service.NewRedisQueue(rdb, service.DefaultQueueKeys(), maxAttempts, leaseTTL)
	summarizer := llm.NewClient(llm.Config{
		BaseURL: os.Getenv("OLLAMA_URL"),
		Model:   os.Getenv("OLLAMA_MODEL"),
	})

	docSvc := service.NewDocumentService(repo, files, summarizer)
	extractSvc := service.NewExtractionService(repo, queue, extract.NewRegistry())

	h := httptransport.NewHandler(docSvc, extractSvc)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httptransport.Routes(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[api] listening on :%s upload_dir=%s", port, uploadDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http: %v", err)
	}

	log.Println("api stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
