package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// reclaimIdle is how long a delivered but unacknowledged scan request may
// sit with a dead consumer before another worker takes it over.
const reclaimIdle = 30 * time.Second

// StreamMessage is one scan request as delivered to a worker, carrying the
// stream entry ID needed to acknowledge it.
type StreamMessage struct {
	ID    string
	Event *models.ScanEvent
}

// RedisStreamClient is the scan-request bus. Producers append requests with
// PublishScanRequest; workers drain them through Consume/Acknowledge, and
// requests that keep failing end up on the dead letter stream.
type RedisStreamClient struct {
	client           *redis.Client
	stream           string
	group            string
	deadLetterStream string
	maxRetries       int
}

func dial(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisStreamClient(cfg configs.RedisConfig, deadLetterStream string) (*RedisStreamClient, error) {
	client, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	bus := &RedisStreamClient{
		client:           client,
		stream:           cfg.StreamName,
		group:            cfg.ConsumerGroup,
		deadLetterStream: deadLetterStream,
		maxRetries:       cfg.MaxRetries,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// MKSTREAM so the group and the stream come up together on first boot.
	err = client.XGroupCreateMkStream(ctx, bus.stream, bus.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		client.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.Info().Str("stream", bus.stream).Str("group", bus.group).Msg("Scan request bus ready")
	return bus, nil
}

// PublishScanRequest appends a scan request and returns its stream entry ID.
func (r *RedisStreamClient) PublishScanRequest(ctx context.Context, event *models.ScanEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scan event: %w", err)
	}

	msgID, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"data": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish scan event: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("scan_id", event.ScanID).
		Str("trigger", event.Trigger).
		Msg("Scan request queued")
	return msgID, nil
}

// Consume returns up to count scan requests for the named consumer. Entries
// abandoned by dead consumers are reclaimed before new ones are read, so a
// single worker restarting does not strand in-flight requests.
func (r *RedisStreamClient) Consume(ctx context.Context, consumerName string, count int64, blockDuration time.Duration) ([]StreamMessage, error) {
	if reclaimed := r.reclaimAbandoned(ctx, consumerName, count); len(reclaimed) > 0 {
		return reclaimed, nil
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: consumerName,
		Streams:  []string{r.stream, ">"},
		Count:    count,
		Block:    blockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []StreamMessage
	for _, stream := range streams {
		out = append(out, r.decodeBatch(stream.Messages)...)
	}
	return out, nil
}

func (r *RedisStreamClient) reclaimAbandoned(ctx context.Context, consumerName string, count int64) []StreamMessage {
	claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: consumerName,
		MinIdle:  reclaimIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil && err != redis.Nil {
		log.Warn().Err(err).Msg("Failed to reclaim abandoned scan requests")
		return nil
	}
	return r.decodeBatch(claimed)
}

func (r *RedisStreamClient) decodeBatch(msgs []redis.XMessage) []StreamMessage {
	var out []StreamMessage
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			log.Error().Str("message_id", msg.ID).Msg("Scan request missing data field")
			continue
		}

		var event models.ScanEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Undecodable scan request")
			continue
		}
		out = append(out, StreamMessage{ID: msg.ID, Event: &event})
	}
	return out
}

// Acknowledge marks a delivered scan request as handled.
func (r *RedisStreamClient) Acknowledge(ctx context.Context, messageID string) error {
	if err := r.client.XAck(ctx, r.stream, r.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// SendToDeadLetter parks a scan request that exhausted its retries, together
// with the final error, for operator inspection.
func (r *RedisStreamClient) SendToDeadLetter(ctx context.Context, event *models.ScanEvent, cause error) error {
	payload, _ := json.Marshal(event)

	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.deadLetterStream,
		Values: map[string]interface{}{
			"data":  string(payload),
			"error": cause.Error(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to send to dead letter: %w", err)
	}

	log.Warn().Str("scan_id", event.ScanID).Err(cause).Msg("Scan request dead-lettered")
	return nil
}

// MaxRetries returns the configured retry limit per scan request.
func (r *RedisStreamClient) MaxRetries() int {
	return r.maxRetries
}

// GetPendingCount reports how many delivered requests are still awaiting
// acknowledgement.
func (r *RedisStreamClient) GetPendingCount(ctx context.Context) (int64, error) {
	pending, err := r.client.XPending(ctx, r.stream, r.group).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

func (r *RedisStreamClient) Close() error {
	return r.client.Close()
}
