package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/internal/aggregate"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// RecordSource supplies the normalized record streams for a scoring pass.
type RecordSource interface {
	DepositsSince(ctx context.Context, since time.Time) ([]models.TransactionRecord, error)
	WithdrawalsSince(ctx context.Context, since time.Time) ([]models.TransactionRecord, error)
	Members(ctx context.Context) ([]models.MemberRecord, error)
}

// AssessmentSink receives the outcome of a completed pass.
type AssessmentSink interface {
	ReplaceAll(ctx context.Context, scanID string, rows []models.RiskAssessment) error
}

// Pass runs one full scoring pass: load the lookback window, fold, index,
// score, persist. Each run starts from a clean aggregator and a freshly
// built index; nothing carries over between passes.
type Pass struct {
	engine       *Engine
	source       RecordSource
	sink         AssessmentSink
	lookbackDays int
}

// NewPass creates a pass runner.
func NewPass(engine *Engine, source RecordSource, sink AssessmentSink, lookbackDays int) *Pass {
	if lookbackDays <= 0 {
		lookbackDays = models.DefaultDays
	}
	return &Pass{
		engine:       engine,
		source:       source,
		sink:         sink,
		lookbackDays: lookbackDays,
	}
}

// Run executes the pass and returns its summary.
func (p *Pass) Run(ctx context.Context, scanID string) (*models.ScanSummary, error) {
	startTime := time.Now()
	since := startTime.Add(-time.Duration(p.lookbackDays) * 24 * time.Hour)

	deposits, err := p.source.DepositsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposits: %w", err)
	}
	withdrawals, err := p.source.WithdrawalsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawals: %w", err)
	}
	members, err := p.source.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}

	agg := NewAggregation(deposits, withdrawals, members)
	idx := aggregate.BuildIndex(agg.Users())
	assessments := p.engine.ScoreAll(agg.Users(), agg.Order(), idx)

	if err := p.sink.ReplaceAll(ctx, scanID, assessments); err != nil {
		return nil, fmt.Errorf("failed to persist assessments: %w", err)
	}

	byLevel := make(map[string]int, 3)
	for _, a := range assessments {
		byLevel[a.Level]++
	}

	summary := &models.ScanSummary{
		ScanID:       scanID,
		LookbackDays: p.lookbackDays,
		CompletedAt:  time.Now(),
		UsersSeen:    agg.Len(),
		Emitted:      len(assessments),
		ByLevel:      byLevel,
	}

	log.Info().
		Str("scan_id", scanID).
		Int("deposits", len(deposits)).
		Int("withdrawals", len(withdrawals)).
		Int("members", len(members)).
		Int("users_seen", summary.UsersSeen).
		Int("emitted", summary.Emitted).
		Dur("duration", time.Since(startTime)).
		Msg("Scoring pass completed")

	return summary, nil
}

// NewAggregation folds the three record streams into a finalized aggregator.
func NewAggregation(deposits, withdrawals []models.TransactionRecord, members []models.MemberRecord) *aggregate.Aggregator {
	agg := aggregate.NewAggregator()
	for _, rec := range deposits {
		agg.AddDeposit(rec)
	}
	for _, rec := range withdrawals {
		agg.AddWithdrawal(rec)
	}
	for _, rec := range members {
		agg.AddMember(rec)
	}
	return agg
}
