package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nbrain-team/vid/internal/config"
	mediadomain "github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/processing"
	"github.com/nbrain-team/vid/internal/domain/search"
	"github.com/nbrain-team/vid/internal/infrastructure/ai"
	"github.com/nbrain-team/vid/internal/infrastructure/database"
	"github.com/nbrain-team/vid/internal/infrastructure/ffmpeg"
	"github.com/nbrain-team/vid/internal/infrastructure/logger"
	"github.com/nbrain-team/vid/internal/infrastructure/queue"
	mediarepo "github.com/nbrain-team/vid/internal/infrastructure/repository/media"
	"github.com/nbrain-team/vid/internal/infrastructure/storage"
	"github.com/nbrain-team/vid/internal/infrastructure/vectorindex"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver"
)

// staleRequeueAge is how long an asset may sit unprocessed before the sweep
// re-enqueues it. Generous on purpose: normal retries go through the queue.
const staleRequeueAge = time.Hour

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(database.Config{
		DSN:             cfg.DatabaseDSN,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	blobs, err := newBlobStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}

	index := vectorindex.NewQdrant(cfg, log)
	if err := index.EnsureCollection(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure vector collection")
	}

	embedder := ai.NewClient(cfg, log)
	taskQueue := queue.NewRedisQueue(rdb, cfg.QueueName, cfg.QueueLeaseTTL, log)

	repo := mediarepo.NewRepository(db)
	ingestor := mediadomain.NewIngestor(cfg, repo, blobs, taskQueue, log)
	mediaService := mediadomain.NewService(cfg, repo, blobs, index, log)
	defer mediaService.Close()
	searchService := search.NewService(repo, index, embedder, log)

	worker, err := processing.NewWorker(cfg, repo, blobs, index, embedder, ffmpeg.NewProber(log), taskQueue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize processing worker")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
		worker.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runStaleSweep(ctx, ingestor, log)
	}()

	checks := map[string]httpserver.HealthChecker{
		"storage": blobs.(httpserver.HealthChecker),
		"qdrant":  index,
		"sidecar": embedder,
	}
	server := httpserver.New(cfg, log, ingestor, mediaService, searchService, checks)
	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("http server stopped with error")
	}

	wg.Wait()
	log.Info().Msg("application exited cleanly")
}

func newBlobStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (mediadomain.BlobStore, error) {
	if cfg.IsLocalStorage() {
		return storage.NewLocalStorage(cfg, log)
	}
	return storage.NewS3Storage(ctx, cfg, log)
}

// runStaleSweep periodically re-enqueues assets whose processing task was
// lost, e.g. after an enqueue failure during ingestion.
func runStaleSweep(ctx context.Context, ingestor *mediadomain.Ingestor, log zerolog.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ingestor.RequeueStale(ctx, staleRequeueAge)
			if err != nil {
				log.Error().Err(err).Msg("stale asset sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("requeued", n).Msg("re-enqueued stale pending assets")
			}
		}
	}
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
