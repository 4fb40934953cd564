package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

const flushTimeoutMs = 10_000

func main() {
	brokers := flag.String("brokers", "localhost:9092", "kafka bootstrap servers")
	topic := flag.String("topic", "movies", "topic the replica consumes")
	fileName := flag.String("file", "changeevents.json", "JSON array of change events")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	events, err := readChangeEvents(*fileName)
	if err != nil {
		logger.Fatal("Failed to read change events", zap.String("file", *fileName), zap.Error(err))
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": *brokers})
	if err != nil {
		logger.Fatal("Failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	go func() {
		for e := range producer.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				logger.Warn("Delivery failed", zap.Error(m.TopicPartition.Error))
			}
		}
	}()

	if err := produceChangeEvents(*topic, producer, events); err != nil {
		logger.Fatal("Failed to produce change events", zap.Error(err))
	}
	if remaining := producer.Flush(flushTimeoutMs); remaining != 0 {
		logger.Fatal("Change events not delivered", zap.Int("remaining", remaining))
	}
	logger.Info("Change events produced", zap.Int("count", len(events)), zap.String("topic", *topic))
}

// readChangeEvents decodes and checks the events in fileName.
func readChangeEvents(fileName string) ([]model.ChangeEvent, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []model.ChangeEvent
	if err := json.NewDecoder(f).Decode(&events); err != nil {
		return nil, err
	}
	for i, ev := range events {
		switch ev.Action {
		case model.ChangeActionCreate, model.ChangeActionUpdate:
			if ev.Movie == nil {
				return nil, fmt.Errorf("event %d: %s without movie", i, ev.Action)
			}
		case model.ChangeActionDelete:
			if ev.MovieID == "" {
				return nil, fmt.Errorf("event %d: delete without movie_id", i)
			}
		default:
			return nil, fmt.Errorf("event %d: unknown action %q", i, ev.Action)
		}
	}
	return events, nil
}

func produceChangeEvents(topic string, producer *kafka.Producer, events []model.ChangeEvent) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
			Value:          payload,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}
