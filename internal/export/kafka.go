package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andresmejia3/trafficvision/internal/traffic"
	"github.com/segmentio/kafka-go"
)

const publishBatch = 100

// Message is the payload published per sampled frame.
type Message struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	traffic.VideoFrameRecord
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends time-series records to a topic, keyed by run ID so a
// run's records stay on one partition and in order.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, runID, source string, records []traffic.VideoFrameRecord) error {
	batch := make([]kafka.Message, 0, publishBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.w.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("kafka publish failed: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for _, r := range records {
		value, err := json.Marshal(Message{RunID: runID, Source: source, VideoFrameRecord: r})
		if err != nil {
			return err
		}
		batch = append(batch, kafka.Message{Key: []byte(runID), Value: value})
		if len(batch) == publishBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
