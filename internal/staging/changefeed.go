package staging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/your-org/lakestage/pkg/kafka"
)

// KafkaChangePublisher publishes catalog record changes to the change-capture
// topic, keyed by record id so changes for one record stay ordered.
type KafkaChangePublisher struct {
	producer *kafka.Producer
}

// NewKafkaChangePublisher constructs a publisher over the given producer.
func NewKafkaChangePublisher(producer *kafka.Producer) *KafkaChangePublisher {
	return &KafkaChangePublisher{producer: producer}
}

func (p *KafkaChangePublisher) PublishChange(ctx context.Context, record *CatalogRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal catalog change %s: %w", record.RecordID, err)
	}

	headers := map[string]string{
		"record_id":  record.RecordID,
		"status":     record.Status,
		"event_type": "catalog.changed",
	}
	return p.producer.Publish(ctx, []byte(record.RecordID), payload, headers)
}
