package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/conus404-etl/internal/config"
	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// StatusWriter publishes job outcomes to a Kafka topic.
// It implements pipeline.StatusPublisher.
type StatusWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewStatusWriter creates a Kafka producer for the configured status topic.
func NewStatusWriter(cfg *config.Config, logger *slog.Logger) *StatusWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaStatusTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &StatusWriter{writer: w, logger: logger}
}

// Publish writes one status message keyed by stage and job index, so reruns
// of a job land on the same partition.
func (w *StatusWriter) Publish(ctx context.Context, status domain.JobStatus) error {
	msg, err := serializeToMessage(status)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish status %s: %w", status.Key(), err)
	}
	w.logger.Debug("job status published", "key", status.Key(), "outcome", status.Outcome)
	return nil
}

func (w *StatusWriter) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a JobStatus into a Kafka message.
func serializeToMessage(status domain.JobStatus) (kafkago.Message, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize job status: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(status.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "stage", Value: []byte(status.Stage)},
			{Key: "outcome", Value: []byte(status.Outcome)},
			{Key: "reported_at", Value: []byte(status.ReportedAt.Format(time.RFC3339))},
		},
	}, nil
}
