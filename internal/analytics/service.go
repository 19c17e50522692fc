package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/internal/queue"
	"github.com/Newcityvip/bdt-fraud-radar/internal/repositories"
)

const statsCacheTTL = time.Minute

// Service reports on the stored assessment set and the ingested record
// streams. Results are cached briefly; the dashboard polls.
type Service struct {
	db    *repositories.Database
	cache *queue.CacheClient
}

// NewService creates a new analytics service
func NewService(db *repositories.Database, cache *queue.CacheClient) *Service {
	return &Service{db: db, cache: cache}
}

// ReasonCount is how many flagged users carry a given reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// TopReasons returns the most common flag reasons in the stored set.
// Formatted reasons vary per user (hours, amounts), so counting happens
// on the stable prefix before any parenthesis.
func (s *Service) TopReasons(ctx context.Context, limit int) ([]ReasonCount, error) {
	if limit <= 0 {
		limit = 10
	}

	cacheKey := fmt.Sprintf("radar:stats:reasons:%d", limit)
	var cached []ReasonCount
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, redis.Nil) {
		log.Debug().Err(err).Msg("Reason stats cache read failed")
	}

	query := `
		SELECT
			split_part(reason, ' (', 1) AS label,
			COUNT(DISTINCT username) AS count
		FROM (
			SELECT username, unnest(reasons) AS reason
			FROM risk_assessments
		) t
		GROUP BY label
		ORDER BY count DESC
		LIMIT $1
	`

	rows, err := s.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top reasons: %w", err)
	}
	defer rows.Close()

	var reasons []ReasonCount
	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan reason count: %w", err)
		}
		reasons = append(reasons, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, reasons, statsCacheTTL); err != nil {
		log.Debug().Err(err).Msg("Reason stats cache write failed")
	}
	return reasons, nil
}

// DailyVolume is one day of one record kind.
type DailyVolume struct {
	Day         string  `json:"day"`
	Kind        string  `json:"kind"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
}

// DailyRecordVolume returns per-day deposit and withdrawal volume over
// the given window, by ingest time so rows with no usable timestamp
// still show up.
func (s *Service) DailyRecordVolume(ctx context.Context, days int) ([]DailyVolume, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	query := `
		SELECT
			to_char(date_trunc('day', ingested_at), 'YYYY-MM-DD') AS day,
			kind,
			COUNT(*) AS count,
			COALESCE(SUM(amount), 0) AS total_amount
		FROM transaction_records
		WHERE ingested_at >= $1
		GROUP BY day, kind
		ORDER BY day, kind
	`

	rows, err := s.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query record volume: %w", err)
	}
	defer rows.Close()

	var volumes []DailyVolume
	for rows.Next() {
		var dv DailyVolume
		if err := rows.Scan(&dv.Day, &dv.Kind, &dv.Count, &dv.TotalAmount); err != nil {
			return nil, fmt.Errorf("failed to scan record volume: %w", err)
		}
		volumes = append(volumes, dv)
	}
	return volumes, rows.Err()
}

// QueueDepth reports how many scan requests await a worker.
func (s *Service) QueueDepth(ctx context.Context, streamClient *queue.RedisStreamClient) (int64, error) {
	return streamClient.GetPendingCount(ctx)
}
