// Package kafka queues ingestion tasks and runs the consumer loop.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"learnmate-go/internal/config"
	"learnmate-go/pkg/log"
	"learnmate-go/pkg/tasks"
)

// TaskProcessor handles one queued ingest task. Decouples the consumer from
// the concrete pipeline implementation.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, task tasks.IngestTask) error
}

// maxTaskAttempts bounds redelivery of a failing task before its offset is
// committed anyway.
const maxTaskAttempts = 3

// Producer publishes ingest tasks.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a producer for the configured topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka producer initialized")
	return &Producer{writer: w}
}

// ProduceIngestTask queues one ingest task.
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal ingest task: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocHash),
		Value: taskBytes,
	})
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer runs the ingest consumer loop until ctx is cancelled.
// Failed tasks are retried via uncommitted offsets; after maxTaskAttempts
// failures (counted in Redis) the offset is committed to unblock the topic.
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("close kafka consumer: %v", err)
		}
	}()

	log.Infof("Kafka consumer started, listening on topic '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka consumer stopping")
				return
			}
			log.Error("fetch kafka message failed", err)
			return
		}

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("unparseable kafka message: %v, value: %s", err, string(m.Value))
			// Malformed message, commit so it does not block the queue.
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("commit malformed message failed: %v", err)
			}
			continue
		}

		log.Infof("[IngestConsumer] processing task, DocHash: %s, FileName: %s, Scope: %s", task.DocHash, task.FileName, task.Scope)
		if err := processor.ProcessTask(ctx, task); err != nil {
			log.Errorf("[IngestConsumer] task failed, DocHash: %s, error: %v", task.DocHash, err)
			attemptsKey := fmt.Sprintf("ingest:attempts:%s", task.DocHash)
			attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
			if incErr != nil {
				// Redis unavailable: leave the offset uncommitted and let
				// Kafka redeliver.
				continue
			}
			_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
			if attempts >= maxTaskAttempts {
				log.Errorf("[IngestConsumer] task failed %d times, committing offset, DocHash: %s", attempts, task.DocHash)
				if err := r.CommitMessages(ctx, m); err != nil {
					log.Errorf("commit kafka offset failed: %v", err)
				}
			}
			continue
		}

		log.Infof("[IngestConsumer] task succeeded, DocHash: %s", task.DocHash)
		_ = rdb.Del(ctx, fmt.Sprintf("ingest:attempts:%s", task.DocHash)).Err()
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("commit kafka offset failed: %v", err)
		}
	}
}
