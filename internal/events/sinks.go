package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/JaimeStill/concord/pkg/storage"
)

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("sink", "log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e Event) error {
	attrs := []any{
		"type", e.Type,
		"event_id", e.ID,
		"workflow_id", e.WorkflowID,
	}
	if e.AssignmentID != nil {
		attrs = append(attrs, "assignment_id", *e.AssignmentID)
	}
	if e.ReviewID != nil {
		attrs = append(attrs, "review_id", *e.ReviewID)
	}
	if e.DecisionID != nil {
		attrs = append(attrs, "decision_id", *e.DecisionID)
	}
	if e.ReviewerID != "" {
		attrs = append(attrs, "reviewer_id", e.ReviewerID)
	}
	for k, v := range e.Detail {
		attrs = append(attrs, k, v)
	}
	s.logger.Info("event", attrs...)
	return nil
}

// MessageWriter is the subset of *kafka.Writer the Kafka sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes events as JSON messages keyed by workflow id.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter creates a writer that hashes message keys so events for one
// workflow land on one partition in order.
func NewKafkaWriter(cfg *KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// NewKafkaSink creates a KafkaSink over writer.
func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, e Event) error {
	body, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.WorkflowID.String()),
		Value: body,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Publisher is the subset of *amqp.Channel the AMQP sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a topic exchange with the event type as routing key.
type AMQPSink struct {
	publisher Publisher
	exchange  string
}

// DialAMQP connects to the broker and declares the durable topic exchange.
func DialAMQP(cfg *AMQPConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	return conn, ch, nil
}

// NewAMQPSink creates an AMQPSink publishing to exchange.
func NewAMQPSink(publisher Publisher, exchange string) *AMQPSink {
	return &AMQPSink{publisher: publisher, exchange: exchange}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, e Event) error {
	body, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID.String(),
		Timestamp:    e.OccurredAt,
		Type:         string(e.Type),
		Body:         body,
	}

	if err := s.publisher.PublishWithContext(ctx, s.exchange, string(e.Type), false, false, msg); err != nil {
		return fmt.Errorf("publish amqp message: %w", err)
	}
	return nil
}

// RedisClient is the subset of redis.Cmdable the Redis sink uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSink publishes events to a channel and opens a discussion board hash
// when a workflow enters dispute.
type RedisSink struct {
	client  RedisClient
	channel string
	ttl     time.Duration
}

// NewRedisClient creates a go-redis client from cfg.
func NewRedisClient(cfg *RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisSink creates a RedisSink. A zero ttl keeps discussion boards indefinitely.
func NewRedisSink(client RedisClient, channel string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, channel: channel, ttl: ttl}
}

// DiscussionKey returns the hash key of a workflow's discussion board.
func DiscussionKey(workflowID fmt.Stringer) string {
	return "discussion:" + workflowID.String()
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, e Event) error {
	if e.Type == DiscussionStarted {
		if err := s.openDiscussion(ctx, e); err != nil {
			return err
		}
	}

	body, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("publish redis message: %w", err)
	}
	return nil
}

func (s *RedisSink) openDiscussion(ctx context.Context, e Event) error {
	key := DiscussionKey(e.WorkflowID)

	err := s.client.HSet(ctx, key,
		"id", e.ID.String(),
		"status", "active",
		"started_at", e.OccurredAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("open discussion board %s: %w", key, err)
	}

	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire discussion board %s: %w", key, err)
		}
	}
	return nil
}

// ArchiveSink uploads decision payloads to blob storage. Decisions are
// immutable, so a key that already exists is left as is.
type ArchiveSink struct {
	store storage.System
}

// NewArchiveSink creates an ArchiveSink over store.
func NewArchiveSink(store storage.System) *ArchiveSink {
	return &ArchiveSink{store: store}
}

// ArchiveKey returns the blob key a decision is archived under.
func ArchiveKey(workflowID, decisionID fmt.Stringer) string {
	return fmt.Sprintf("decisions/%s/%s.json", workflowID, decisionID)
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Deliver(ctx context.Context, e Event) error {
	if e.Type != DecisionMade || e.DecisionID == nil || e.Payload == nil {
		return nil
	}

	body, err := json.MarshalIndent(e.Payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	key := ArchiveKey(e.WorkflowID, *e.DecisionID)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("archive decision: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.store.Put(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("archive decision: %w", err)
	}
	return nil
}
