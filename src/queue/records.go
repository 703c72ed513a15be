package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"spot-engine/src/models"
)

// RecordSink receives the trade and order records of one command, in order.
type RecordSink interface {
	Write(ctx context.Context, records []models.Record) error
}

// RedisRecordSink LPUSHes every record onto the persistence list.
type RedisRecordSink struct {
	client redis.Cmdable
	key    string
}

func NewRedisRecordSink(client redis.Cmdable, key string) *RedisRecordSink {
	return &RedisRecordSink{client: client, key: key}
}

func (s *RedisRecordSink) Write(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s record: %w", r.Type, err)
		}
		values = append(values, raw)
	}
	// one LPUSH keeps the records of a command contiguous and ordered
	if err := s.client.LPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", s.key, err)
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecordSink writes records to a topic keyed by market, so one
// market's history stays on one partition.
type KafkaRecordSink struct {
	writer MessageWriter
}

func NewKafkaWriter(brokers []string, topic string, batchTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: batchTimeout,
	}
}

func NewKafkaRecordSink(writer MessageWriter) *KafkaRecordSink {
	return &KafkaRecordSink{writer: writer}
}

func (s *KafkaRecordSink) Write(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s record: %w", r.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Market),
			Value: raw,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(r.Type)},
			},
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaRecordSink) Close() error { return s.writer.Close() }

// MultiSink writes to every sink and joins their errors.
type MultiSink []RecordSink

func (m MultiSink) Write(ctx context.Context, records []models.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DiscardSink drops records.
type DiscardSink struct{}

func (DiscardSink) Write(context.Context, []models.Record) error { return nil }
