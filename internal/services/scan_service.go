package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/scoring"
)

const (
	scanLockKey    = "radar:scan_lock"
	scanSummaryKey = "radar:last_scan"
	scanLockTTL    = 2 * time.Minute
)

// scanLockRefresh is how often a running pass re-arms the lock TTL. Kept
// well under scanLockTTL so a pass that outlives the initial TTL never
// loses mutual exclusion.
var scanLockRefresh = scanLockTTL / 4

var (
	ErrScanInProgress  = errors.New("a scan is already running")
	ErrNoCompletedScan = errors.New("no completed scan yet")
)

// ScanCache is the slice of the cache client the scan service needs: the
// summary store plus the cross-process lock primitives.
type ScanCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
}

// ScanService runs scoring passes. At most one pass runs at a time across
// all processes; the Redis lock is the arbiter.
type ScanService struct {
	engine *scoring.Engine
	source scoring.RecordSource
	sink   scoring.AssessmentSink
	cache  ScanCache
}

// NewScanService creates a new scan service
func NewScanService(engine *scoring.Engine, source scoring.RecordSource, sink scoring.AssessmentSink, cache ScanCache) *ScanService {
	return &ScanService{
		engine: engine,
		source: source,
		sink:   sink,
		cache:  cache,
	}
}

// RunScan executes one scoring pass over the given lookback window and
// caches its summary. Returns ErrScanInProgress if another pass holds the
// lock.
func (s *ScanService) RunScan(ctx context.Context, scanID string, lookbackDays int) (*models.ScanSummary, error) {
	if scanID == "" {
		scanID = uuid.NewString()
	}

	acquired, err := s.cache.SetNX(ctx, scanLockKey, scanID, scanLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire scan lock: %w", err)
	}
	if !acquired {
		return nil, ErrScanInProgress
	}

	stopRefresh := s.holdLock(scanID)
	defer func() {
		stopRefresh()
		if err := s.cache.Delete(context.Background(), scanLockKey); err != nil {
			log.Warn().Err(err).Msg("Failed to release scan lock")
		}
	}()

	pass := scoring.NewPass(s.engine, s.source, s.sink, lookbackDays)
	summary, err := pass.Run(ctx, scanID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, scanSummaryKey, summary, 0); err != nil {
		log.Warn().Err(err).Str("scan_id", scanID).Msg("Failed to cache scan summary")
	}
	return summary, nil
}

// holdLock re-arms the scan lock's TTL until the returned stop function is
// called, so long passes keep exclusion while a crashed holder still ages
// out within one TTL.
func (s *ScanService) holdLock(scanID string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(scanLockRefresh)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := s.cache.Expire(context.Background(), scanLockKey, scanLockTTL)
				if err != nil {
					log.Warn().Err(err).Str("scan_id", scanID).Msg("Failed to refresh scan lock")
				} else if !held {
					log.Warn().Str("scan_id", scanID).Msg("Scan lock expired mid-pass")
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// LatestSummary returns the summary of the most recent completed pass.
func (s *ScanService) LatestSummary(ctx context.Context) (*models.ScanSummary, error) {
	var summary models.ScanSummary
	if err := s.cache.Get(ctx, scanSummaryKey, &summary); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoCompletedScan
		}
		return nil, fmt.Errorf("failed to read scan summary: %w", err)
	}
	return &summary, nil
}
