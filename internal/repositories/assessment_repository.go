package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

var ErrNoScan = errors.New("no completed scan available")

// AssessmentRepository persists the output of the latest scoring pass and
// serves it back in rank order, paged.
type AssessmentRepository struct {
	db *Database
}

// NewAssessmentRepository creates a new assessment repository
func NewAssessmentRepository(db *Database) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// ReplaceAll atomically swaps the stored assessment set for the given scan.
// Row order is the scorer's ranking and is preserved via the rank column.
func (r *AssessmentRepository) ReplaceAll(ctx context.Context, scanID string, rows []models.RiskAssessment) error {
	query := `
		INSERT INTO risk_assessments (
			scan_id, rank, username, score, level, reasons,
			deposit_total, withdrawal_total, net, deposit_count, withdrawal_count,
			unique_instruments, shared_instrument_users, shared_origin_users,
			fast_withdrawal, account_status, vip_tier,
			first_deposit_at, first_withdrawal_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	now := time.Now()
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM risk_assessments`); err != nil {
			return fmt.Errorf("failed to clear previous assessments: %w", err)
		}

		batch := &pgx.Batch{}
		for i, row := range rows {
			batch.Queue(query,
				scanID, i, row.Username, row.Score, row.Level, pq.Array(row.Reasons),
				row.DepositTotal, row.WithdrawalTotal, row.Net, row.DepositCount, row.WithdrawalCount,
				row.UniqueInstrumentCount, row.SharedInstrumentUsers, row.SharedOriginUsers,
				row.FastWithdrawal, row.AccountStatus, row.VIPTier,
				emptyToNull(row.FirstDepositAt), emptyToNull(row.FirstWithdrawalAt), now,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range rows {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to insert assessment: %w", err)
			}
		}
		return nil
	})
}

const assessmentSelect = `
	SELECT username, score, level, reasons,
		deposit_total, withdrawal_total, net, deposit_count, withdrawal_count,
		unique_instruments, shared_instrument_users, shared_origin_users,
		fast_withdrawal, account_status, vip_tier,
		COALESCE(first_deposit_at, ''), COALESCE(first_withdrawal_at, '')
	FROM risk_assessments
	WHERE score >= $1
	ORDER BY rank
`

// maxPagePrealloc caps the result slice's initial capacity. The limit
// parameter is caller-supplied and may be arbitrarily large; the slice
// grows to whatever the query actually returns.
const maxPagePrealloc = 1024

func pagePrealloc(limit int) int {
	switch {
	case limit < 0:
		return 0
	case limit > maxPagePrealloc:
		return maxPagePrealloc
	default:
		return limit
	}
}

// ListPage returns one rank-ordered page of assessments at or above the
// minimum score, plus the total number of matching rows.
func (r *AssessmentRepository) ListPage(ctx context.Context, minScore, limit, offset int) ([]models.RiskAssessment, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM risk_assessments WHERE score >= $1`, minScore).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count assessments: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, assessmentSelect+` LIMIT $2 OFFSET $3`, minScore, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	assessments, err := collectAssessments(rows, pagePrealloc(limit))
	return assessments, total, err
}

// ListAll returns every stored assessment in rank order, without paging.
func (r *AssessmentRepository) ListAll(ctx context.Context, minScore int) ([]models.RiskAssessment, error) {
	rows, err := r.db.Pool.Query(ctx, assessmentSelect, minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	return collectAssessments(rows, maxPagePrealloc)
}

func collectAssessments(rows pgx.Rows, prealloc int) ([]models.RiskAssessment, error) {
	assessments := make([]models.RiskAssessment, 0, prealloc)
	for rows.Next() {
		var a models.RiskAssessment
		if err := rows.Scan(
			&a.Username, &a.Score, &a.Level, pq.Array(&a.Reasons),
			&a.DepositTotal, &a.WithdrawalTotal, &a.Net, &a.DepositCount, &a.WithdrawalCount,
			&a.UniqueInstrumentCount, &a.SharedInstrumentUsers, &a.SharedOriginUsers,
			&a.FastWithdrawal, &a.AccountStatus, &a.VIPTier,
			&a.FirstDepositAt, &a.FirstWithdrawalAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

// LevelDistribution returns the count of stored assessments per risk level.
func (r *AssessmentRepository) LevelDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT level, COUNT(*) FROM risk_assessments GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("failed to query level distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int, 3)
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("failed to scan level distribution: %w", err)
		}
		dist[level] = count
	}
	return dist, rows.Err()
}

// LatestScanID returns the scan that produced the stored set.
func (r *AssessmentRepository) LatestScanID(ctx context.Context) (string, error) {
	var scanID string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT scan_id FROM risk_assessments ORDER BY rank LIMIT 1`).Scan(&scanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoScan
		}
		return "", fmt.Errorf("failed to read latest scan id: %w", err)
	}
	return scanID, nil
}

func emptyToNull(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
