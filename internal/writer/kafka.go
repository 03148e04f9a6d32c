package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"launchwatch/config"
	"launchwatch/internal/events"
	"launchwatch/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each announcement to a topic, keyed by identity key.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	sub     *subscriber
	log     *logger.Log
}

func NewKafkaPublisher(cfg config.KafkaConfig, log *logger.Log) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return newKafkaPublisher(w, log), nil
}

func newKafkaPublisher(w messageWriter, log *logger.Log) *KafkaPublisher {
	p := &KafkaPublisher{writer: w, timeout: 10 * time.Second, log: log}
	p.sub = &subscriber{name: "kafka_writer", handle: p.publish, log: log.WithComponent("kafka_writer")}
	return p
}

func (p *KafkaPublisher) Start(ctx context.Context, bus *events.Bus) error {
	return p.sub.start(ctx, bus, 256)
}

func (p *KafkaPublisher) publish(ctx context.Context, env announcementEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Announcement.IdentityKey),
		Value: data,
		Time:  env.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
		},
	})
}

func (p *KafkaPublisher) Stop() error {
	p.sub.stop()
	p.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
	return p.writer.Close()
}
