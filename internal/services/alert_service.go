package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/queue"
	"github.com/Newcityvip/bdt-fraud-radar/internal/repositories"
)

// AlertService serves pages of scored alerts and mediates scan requests.
type AlertService struct {
	assessments *repositories.AssessmentRepository
	scans       *ScanService
	stream      *queue.RedisStreamClient
}

// NewAlertService creates a new alert service
func NewAlertService(assessments *repositories.AssessmentRepository, scans *ScanService, stream *queue.RedisStreamClient) *AlertService {
	return &AlertService{
		assessments: assessments,
		scans:       scans,
		stream:      stream,
	}
}

// GetPage serves one page of stored alerts for the given query. Pages at
// different offsets of the same query slice one fixed ranked set; changing
// days triggers a fresh pass before the first page is served.
func (s *AlertService) GetPage(ctx context.Context, params models.QueryParams) (*models.PageResponse, error) {
	params = params.Normalized()

	if err := s.ensureWindow(ctx, params.Days); err != nil {
		return nil, err
	}

	rows, total, err := s.assessments.ListPage(ctx, params.MinScore, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert page: %w", err)
	}

	return &models.PageResponse{
		OK:           true,
		Rows:         rows,
		TotalMatches: total,
	}, nil
}

// ExportRows returns every stored alert at or above the minimum score, in
// rank order, for CSV export.
func (s *AlertService) ExportRows(ctx context.Context, params models.QueryParams) ([]models.RiskAssessment, error) {
	params = params.Normalized()
	if err := s.ensureWindow(ctx, params.Days); err != nil {
		return nil, err
	}
	return s.assessments.ListAll(ctx, params.MinScore)
}

// SummaryResponse bundles the latest pass summary with the stored level
// distribution.
type SummaryResponse struct {
	Scan         *models.ScanSummary `json:"scan"`
	Distribution map[string]int      `json:"distribution"`
}

// Summary reports on the latest completed pass.
func (s *AlertService) Summary(ctx context.Context) (*SummaryResponse, error) {
	summary, err := s.scans.LatestSummary(ctx)
	if err != nil && !errors.Is(err, ErrNoCompletedScan) {
		return nil, err
	}

	dist, err := s.assessments.LevelDistribution(ctx)
	if err != nil {
		return nil, err
	}

	return &SummaryResponse{Scan: summary, Distribution: dist}, nil
}

// TriggerScan queues an asynchronous scoring pass and returns its scan ID.
func (s *AlertService) TriggerScan(ctx context.Context, trigger string, lookbackDays int) (string, error) {
	if lookbackDays <= 0 {
		lookbackDays = models.DefaultDays
	}
	event := &models.ScanEvent{
		ScanID:       uuid.NewString(),
		Trigger:      trigger,
		LookbackDays: lookbackDays,
		RequestedAt:  time.Now(),
	}
	if _, err := s.stream.PublishScanRequest(ctx, event); err != nil {
		return "", fmt.Errorf("failed to queue scan request: %w", err)
	}
	return event.ScanID, nil
}

// ensureWindow makes sure the stored set was produced over the requested
// lookback window, running a pass synchronously when it was not. A pass
// already in flight is treated as fresh enough; the current set is served.
func (s *AlertService) ensureWindow(ctx context.Context, days int) error {
	summary, err := s.scans.LatestSummary(ctx)
	if err == nil && summary.LookbackDays == days {
		return nil
	}
	if err != nil && !errors.Is(err, ErrNoCompletedScan) {
		return err
	}

	if _, err := s.scans.RunScan(ctx, "", days); err != nil {
		if errors.Is(err, ErrScanInProgress) {
			log.Debug().Int("days", days).Msg("Scan in flight, serving stored set")
			return nil
		}
		return err
	}
	return nil
}
