package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/segmentio/kafka-go"
)

// KafkaDispatcher publishes dial commands on a topic consumed by the telephony layer
type KafkaDispatcher struct {
	writer *kafka.Writer
}

// NewKafkaDispatcher creates a dispatcher writing to topic on brokers
func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Originate implements Dispatcher. Commands are keyed by campaign so one campaign's
// originations stay ordered on a partition.
func (d *KafkaDispatcher) Originate(ctx context.Context, cmd types.DialCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal dial command: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(cmd.CampaignID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "attempt_id", Value: []byte(cmd.AttemptID)},
		},
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish dial command: %w", unconfirmed(err))
	}
	return nil
}

// Close flushes and closes the writer
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
