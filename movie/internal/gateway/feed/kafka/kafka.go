package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhishek622/moviereplica/movie/internal/gateway"
	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const pollInterval = 500 * time.Millisecond

var _ gateway.FeedSource = (*Source)(nil)

// Source consumes change events from a Kafka topic.
type Source struct {
	addr    string
	groupID string
	topic   string
}

// New creates a Kafka feed source.
func New(addr, groupID, topic string) *Source {
	return &Source{addr: addr, groupID: groupID, topic: topic}
}

// Connect creates a consumer subscribed to the topic. Offsets are committed
// for the consumer group, so a reconnect resumes after the last committed
// event. Only a group without committed offsets starts at the latest one,
// the bulk load providing the baseline.
func (s *Source) Connect(ctx context.Context) (gateway.FeedStream, error) {
	consumer, err := kafka.NewConsumer(s.configMap())
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{s.topic}, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	return &stream{consumer: consumer}, nil
}

func (s *Source) configMap() *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":  s.addr,
		"group.id":           s.groupID,
		"enable.auto.commit": true,
		"auto.offset.reset":  "latest",
	}
}

type stream struct {
	consumer *kafka.Consumer
}

// Next polls until a message arrives or ctx ends.
func (s *stream) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.consumer.ReadMessage(pollInterval)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			return nil, err
		}
		return msg.Value, nil
	}
}

func (s *stream) Close() error {
	return s.consumer.Close()
}
