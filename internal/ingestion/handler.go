package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/normalize"
	"github.com/Newcityvip/bdt-fraud-radar/internal/queue"
	"github.com/Newcityvip/bdt-fraud-radar/internal/repositories"
)

// BatchRecordRequest is a batch of raw spreadsheet-style rows of one kind.
// Rows keep their source header names; normalization happens here.
type BatchRecordRequest struct {
	Kind    string             `json:"kind" binding:"required,oneof=deposit withdrawal member"`
	Records []models.RawRecord `json:"records" binding:"required,min=1,max=5000"`
}

// BatchRecordResponse reports the outcome of a batch ingest.
type BatchRecordResponse struct {
	Kind       string `json:"kind"`
	Accepted   int    `json:"accepted"`
	Skipped    int    `json:"skipped"`
	ScanQueued bool   `json:"scan_queued"`
	ScanID     string `json:"scan_id,omitempty"`
}

// Service normalizes raw record batches, persists them and queues a
// rescore when new data lands.
type Service struct {
	records      *repositories.RecordRepository
	streamClient *queue.RedisStreamClient
	lookbackDays int
}

// NewService creates a new ingestion service
func NewService(records *repositories.RecordRepository, streamClient *queue.RedisStreamClient, lookbackDays int) *Service {
	return &Service{
		records:      records,
		streamClient: streamClient,
		lookbackDays: lookbackDays,
	}
}

// IngestBatch normalizes and stores one batch. Rows without a resolvable
// username are skipped, not failed; everything else lands as-is with bad
// amounts clamped to zero and bad timestamps dropped.
func (s *Service) IngestBatch(ctx context.Context, req *BatchRecordRequest, trigger string) (*BatchRecordResponse, error) {
	startTime := time.Now()
	resp := &BatchRecordResponse{Kind: req.Kind}

	if len(req.Records) == 0 {
		return resp, nil
	}

	fields := normalize.FieldMapFor(req.Records[0])

	switch req.Kind {
	case models.RecordKindDeposit, models.RecordKindWithdrawal:
		rows := make([]models.TransactionRecord, 0, len(req.Records))
		for _, raw := range req.Records {
			rec, ok := fields.DecodeTransaction(raw)
			if !ok {
				resp.Skipped++
				continue
			}
			rows = append(rows, rec)
		}
		if err := s.records.InsertTransactions(ctx, req.Kind, rows); err != nil {
			return nil, fmt.Errorf("failed to store %s batch: %w", req.Kind, err)
		}
		resp.Accepted = len(rows)

	case "member":
		rows := make([]models.MemberRecord, 0, len(req.Records))
		for _, raw := range req.Records {
			rec, ok := fields.DecodeMember(raw)
			if !ok {
				resp.Skipped++
				continue
			}
			rows = append(rows, rec)
		}
		if err := s.records.UpsertMembers(ctx, rows); err != nil {
			return nil, fmt.Errorf("failed to store member batch: %w", err)
		}
		resp.Accepted = len(rows)

	default:
		return nil, fmt.Errorf("unknown record kind: %s", req.Kind)
	}

	if resp.Accepted > 0 {
		scanID, err := s.queueScan(ctx, trigger)
		if err != nil {
			// The batch is stored; the next scan picks it up anyway.
			log.Warn().Err(err).Str("kind", req.Kind).Msg("Failed to queue rescore after ingest")
		} else {
			resp.ScanQueued = true
			resp.ScanID = scanID
		}
	}

	log.Info().
		Str("kind", req.Kind).
		Int("accepted", resp.Accepted).
		Int("skipped", resp.Skipped).
		Dur("duration", time.Since(startTime)).
		Msg("Batch ingested")

	return resp, nil
}

func (s *Service) queueScan(ctx context.Context, trigger string) (string, error) {
	event := &models.ScanEvent{
		ScanID:       uuid.NewString(),
		Trigger:      trigger,
		LookbackDays: s.lookbackDays,
		RequestedAt:  time.Now(),
	}
	if _, err := s.streamClient.PublishScanRequest(ctx, event); err != nil {
		return "", err
	}
	return event.ScanID, nil
}
