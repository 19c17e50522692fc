package services

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/queue"
)

// ScanWorker drains the scan-request stream and runs scoring passes.
// Passes are serialized by the scan lock, so a single consumer loop is
// enough; a second worker process just shares the consumer group.
type ScanWorker struct {
	id           string
	scans        *ScanService
	streamClient *queue.RedisStreamClient
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	metrics      *WorkerMetrics
}

// WorkerMetrics tracks worker performance
type WorkerMetrics struct {
	mu              sync.RWMutex
	ProcessedCount  int64
	FailedCount     int64
	LastProcessedAt time.Time
}

// Snapshot returns a copy of the current counters.
func (m *WorkerMetrics) Snapshot() (processed, failed int64, last time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ProcessedCount, m.FailedCount, m.LastProcessedAt
}

// NewScanWorker creates a new scan worker
func NewScanWorker(id string, scans *ScanService, streamClient *queue.RedisStreamClient, config configs.WorkerConfig) *ScanWorker {
	return &ScanWorker{
		id:           id,
		scans:        scans,
		streamClient: streamClient,
		config:       config,
		stopCh:       make(chan struct{}),
		metrics:      &WorkerMetrics{},
	}
}

// Start runs the worker until a shutdown signal or context cancellation.
func (w *ScanWorker) Start(ctx context.Context) error {
	log.Info().Str("worker_id", w.id).Msg("Starting scan worker")

	w.wg.Add(1)
	go w.processLoop(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	return w.Stop()
}

// Stop stops the worker gracefully
func (w *ScanWorker) Stop() error {
	log.Info().Str("worker_id", w.id).Msg("Stopping worker...")
	close(w.stopCh)
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

// Metrics exposes the worker counters.
func (w *ScanWorker) Metrics() *WorkerMetrics {
	return w.metrics
}

func (w *ScanWorker) processLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *ScanWorker) processBatch(ctx context.Context) {
	messages, err := w.streamClient.Consume(ctx, w.id, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		log.Error().Err(err).Str("worker_id", w.id).Msg("Failed to consume scan requests")
		time.Sleep(time.Second)
		return
	}

	for _, msg := range messages {
		if err := w.processMessage(ctx, msg); err != nil {
			w.handleFailure(ctx, msg, err)
			continue
		}

		if err := w.streamClient.Acknowledge(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge message")
		}

		w.metrics.mu.Lock()
		w.metrics.ProcessedCount++
		w.metrics.LastProcessedAt = time.Now()
		w.metrics.mu.Unlock()
	}
}

func (w *ScanWorker) processMessage(ctx context.Context, msg queue.StreamMessage) error {
	event := msg.Event

	summary, err := w.scans.RunScan(ctx, event.ScanID, event.LookbackDays)
	if err != nil {
		if errors.Is(err, ErrScanInProgress) {
			// Another pass covers this request; the stored set will be
			// fresh once it completes.
			log.Debug().Str("scan_id", event.ScanID).Msg("Scan already running, coalescing request")
			return nil
		}
		return err
	}

	log.Info().
		Str("scan_id", summary.ScanID).
		Str("trigger", event.Trigger).
		Int("emitted", summary.Emitted).
		Msg("Scan request completed")
	return nil
}

func (w *ScanWorker) handleFailure(ctx context.Context, msg queue.StreamMessage, cause error) {
	event := msg.Event

	log.Error().
		Err(cause).
		Str("message_id", msg.ID).
		Str("scan_id", event.ScanID).
		Int("retry_count", event.RetryCount).
		Msg("Failed to process scan request")

	// Retry limit travels with the stream client so producers and every
	// worker agree on when a request is spent.
	if event.RetryCount < w.streamClient.MaxRetries() {
		event.RetryCount++
		if _, err := w.streamClient.PublishScanRequest(ctx, event); err != nil {
			log.Error().Err(err).Msg("Failed to requeue scan request")
		}
	} else {
		if err := w.streamClient.SendToDeadLetter(ctx, event, cause); err != nil {
			log.Error().Err(err).Msg("Failed to send scan request to dead letter stream")
		}
	}

	if err := w.streamClient.Acknowledge(ctx, msg.ID); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge failed message")
	}

	w.metrics.mu.Lock()
	w.metrics.FailedCount++
	w.metrics.mu.Unlock()
}
