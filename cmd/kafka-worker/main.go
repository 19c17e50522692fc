package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/ingestion"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/queue"
	"github.com/Newcityvip/bdt-fraud-radar/internal/repositories"
)

// The kafka worker bridges the platform's export topics into the radar.
// Each message is either a single raw row or an array of raw rows, keyed
// by whatever headers the upstream export uses; the ingestion service
// normalizes them and queues a rescore.

// IngestMetrics tracks consumed message counts per topic.
type IngestMetrics struct {
	mu           sync.RWMutex
	ByTopic      map[string]int64
	Skipped      int64
	LastConsumed time.Time
}

func NewIngestMetrics() *IngestMetrics {
	return &IngestMetrics{ByTopic: make(map[string]int64)}
}

func (m *IngestMetrics) Record(topic string, skipped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ByTopic[topic]++
	m.Skipped += int64(skipped)
	m.LastConsumed = time.Now()
}

func (m *IngestMetrics) Snapshot() (map[string]int64, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byTopic := make(map[string]int64, len(m.ByTopic))
	for k, v := range m.ByTopic {
		byTopic[k] = v
	}
	return byTopic, m.Skipped
}

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	topics := []string{cfg.Kafka.DepositTopic, cfg.Kafka.WithdrawalTopic, cfg.Kafka.MemberTopic}

	log.Info().
		Strs("brokers", brokers).
		Strs("topics", topics).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Starting fraud radar kafka worker")

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

	recordRepo := repositories.NewRecordRepository(db)
	ingestionService := ingestion.NewService(recordRepo, streamClient, cfg.Scoring.LookbackDays)

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &recordTopicHandler{
		ingestion: ingestionService,
		kinds: map[string]string{
			cfg.Kafka.DepositTopic:    models.RecordKindDeposit,
			cfg.Kafka.WithdrawalTopic: models.RecordKindWithdrawal,
			cfg.Kafka.MemberTopic:     "member",
		},
		metrics: NewIngestMetrics(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping kafka worker...")
		cancel()
	}()

	go handler.startMetricsReporter(ctx)

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down kafka worker")
			return
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

// recordTopicHandler routes topic messages to the ingestion service.
type recordTopicHandler struct {
	ingestion *ingestion.Service
	kinds     map[string]string
	metrics   *IngestMetrics
}

func (h *recordTopicHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Kafka consumer session started")
	return nil
}

func (h *recordTopicHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Kafka consumer session ended")
	return nil
}

func (h *recordTopicHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *recordTopicHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	kind, ok := h.kinds[message.Topic]
	if !ok {
		log.Warn().Str("topic", message.Topic).Msg("Message from unmapped topic")
		return
	}

	records, err := decodeRecords(message.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("topic", message.Topic).
			Int64("offset", message.Offset).
			Msg("Failed to decode message payload")
		return
	}
	if len(records) == 0 {
		return
	}

	resp, err := h.ingestion.IngestBatch(ctx, &ingestion.BatchRecordRequest{
		Kind:    kind,
		Records: records,
	}, "kafka")
	if err != nil {
		log.Error().
			Err(err).
			Str("topic", message.Topic).
			Int64("offset", message.Offset).
			Msg("Failed to ingest records")
		return
	}

	h.metrics.Record(message.Topic, resp.Skipped)
}

// decodeRecords accepts either one row object or an array of row objects.
func decodeRecords(payload []byte) ([]models.RawRecord, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var records []models.RawRecord
		if err := json.Unmarshal(payload, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var record models.RawRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	return []models.RawRecord{record}, nil
}

func (h *recordTopicHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			byTopic, skipped := h.metrics.Snapshot()
			log.Info().
				Interface("messages_by_topic", byTopic).
				Int64("rows_skipped", skipped).
				Msg("Kafka worker metrics")
		}
	}
}
