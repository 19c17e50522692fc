package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// RecordRepository stores the normalized raw records feeding scoring passes.
type RecordRepository struct {
	db *Database
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *Database) *RecordRepository {
	return &RecordRepository{db: db}
}

// InsertTransactions batch-inserts deposit or withdrawal records.
func (r *RecordRepository) InsertTransactions(ctx context.Context, kind string, records []models.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}
	if kind != models.RecordKindDeposit && kind != models.RecordKindWithdrawal {
		return fmt.Errorf("unknown record kind: %s", kind)
	}

	query := `
		INSERT INTO transaction_records (kind, username, amount, instrument, recorded_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now()
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query, kind, rec.Username, rec.Amount, rec.Instrument, rec.Timestamp, now)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert %s record: %w", kind, err)
		}
	}
	return nil
}

// UpsertMembers inserts member records, overwriting attributes for existing
// usernames. The batch is applied in order, so the last row per username in
// the input stream decides the stored values.
func (r *RecordRepository) UpsertMembers(ctx context.Context, records []models.MemberRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO member_records (username, network_origin, vip_tier, account_status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			network_origin = EXCLUDED.network_origin,
			vip_tier = EXCLUDED.vip_tier,
			account_status = EXCLUDED.account_status,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query, rec.Username, rec.NetworkOrigin, rec.VIPTier, rec.AccountStatus, now)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert member record: %w", err)
		}
	}
	return nil
}

// DepositsSince returns deposit records in the lookback window. Records
// without a timestamp cannot be excluded confidently and are included.
func (r *RecordRepository) DepositsSince(ctx context.Context, since time.Time) ([]models.TransactionRecord, error) {
	return r.transactionsSince(ctx, models.RecordKindDeposit, since)
}

// WithdrawalsSince returns withdrawal records in the lookback window.
func (r *RecordRepository) WithdrawalsSince(ctx context.Context, since time.Time) ([]models.TransactionRecord, error) {
	return r.transactionsSince(ctx, models.RecordKindWithdrawal, since)
}

func (r *RecordRepository) transactionsSince(ctx context.Context, kind string, since time.Time) ([]models.TransactionRecord, error) {
	query := `
		SELECT username, amount, instrument, recorded_at
		FROM transaction_records
		WHERE kind = $1 AND (recorded_at IS NULL OR recorded_at >= $2)
		ORDER BY id
	`

	rows, err := r.db.Pool.Query(ctx, query, kind, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", kind, err)
	}
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		var rec models.TransactionRecord
		if err := rows.Scan(&rec.Username, &rec.Amount, &rec.Instrument, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", kind, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Members returns the current member record per username.
func (r *RecordRepository) Members(ctx context.Context) ([]models.MemberRecord, error) {
	query := `
		SELECT username, network_origin, vip_tier, account_status
		FROM member_records
		ORDER BY username
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query member records: %w", err)
	}
	defer rows.Close()

	var records []models.MemberRecord
	for rows.Next() {
		var rec models.MemberRecord
		if err := rows.Scan(&rec.Username, &rec.NetworkOrigin, &rec.VIPTier, &rec.AccountStatus); err != nil {
			return nil, fmt.Errorf("failed to scan member record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneBefore removes transaction records older than the cutoff. Records
// without a timestamp are kept.
func (r *RecordRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM transaction_records WHERE recorded_at IS NOT NULL AND recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	return tag.RowsAffected(), nil
}
