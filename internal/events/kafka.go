// Package events publishes run-completion notifications to Kafka so
// downstream consumers can react to fresh loads. Publishing is best
// effort: a broker outage never fails an ingestion run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/orchestrator"
)

type Publisher struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

// NewPublisher parses a kafka://host:port/topic?param=value URI. Query
// parameters pass straight through to the producer config.
func NewPublisher(uri *url.URL, logger *zap.Logger) (*Publisher, error) {
	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("topic must be specified in URL path")
	}

	brokers := uri.Host
	if uri.Port() != "" && !strings.Contains(brokers, ":") {
		brokers = fmt.Sprintf("%s:%s", uri.Hostname(), uri.Port())
	}

	config := kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "tripline",

		"acks":             "1",
		"retries":          "3",
		"linger.ms":        "5",
		"compression.type": "snappy",

		"request.timeout.ms":  "5000",
		"delivery.timeout.ms": "10000",
	}
	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}

	return &Publisher{
		topic:  topic,
		config: config,
		logger: logger,
	}, nil
}

func (p *Publisher) Connect(ctx context.Context) error {
	producer, err := kafka.NewProducer(&p.config)
	if err != nil {
		return err
	}
	p.producer = producer

	go func() {
		defer p.logger.Info("producer event loop closed")

		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					p.logger.Error("delivery failed", zap.Error(ev.TopicPartition.Error))
				} else {
					p.logger.Debug("run event delivered",
						zap.String("topic", *ev.TopicPartition.Topic),
						zap.Int32("partition", ev.TopicPartition.Partition),
						zap.Int64("offset", int64(ev.TopicPartition.Offset)))
				}
			case kafka.Error:
				p.logger.Error("producer error", zap.Error(ev))
			}
		}
	}()

	p.logger.Info("kafka publisher connected", zap.String("topic", p.topic))
	return nil
}

// RunCompleted emits the run result as a JSON event keyed by run id.
func (p *Publisher) RunCompleted(ctx context.Context, result *orchestrator.RunResult) error {
	if p.producer == nil {
		return fmt.Errorf("publisher is not connected")
	}

	value, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(result.RunID),
		Value: value,
	}, nil)
}

func (p *Publisher) Close() {
	if p.producer != nil {
		p.producer.Flush(5000)
		p.producer.Close()
	}
}
