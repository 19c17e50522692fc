package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/queue"
	"github.com/Newcityvip/bdt-fraud-radar/internal/repositories"
	"github.com/Newcityvip/bdt-fraud-radar/internal/scoring"
	"github.com/Newcityvip/bdt-fraud-radar/internal/services"
)

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	workerID := "scan-worker-" + uuid.NewString()[:8]

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("worker_id", workerID).
		Msg("Starting fraud radar scan worker")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis cache")
	}
	defer cacheClient.Close()

	recordRepo := repositories.NewRecordRepository(db)
	assessmentRepo := repositories.NewAssessmentRepository(db)

	engine := scoring.NewEngine(scoring.ThresholdsFromConfig(cfg.Scoring))
	scanService := services.NewScanService(engine, recordRepo, assessmentRepo, cacheClient)

	worker := services.NewScanWorker(workerID, scanService, streamClient, cfg.Worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runRetention(ctx, recordRepo, cfg.Worker.RetentionDays)

	if err := worker.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
	}

	log.Info().Msg("Worker shutdown complete")
}

// runRetention prunes raw records that have aged out of every possible
// lookback window. Runs once at startup, then every 6 hours.
func runRetention(ctx context.Context, records *repositories.RecordRepository, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if pruned, err := records.PruneBefore(ctx, cutoff); err != nil {
			log.Error().Err(err).Msg("Record retention prune failed")
		} else if pruned > 0 {
			log.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("Pruned aged-out records")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
