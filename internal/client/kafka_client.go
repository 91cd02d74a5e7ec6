package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"travel-auth/internal/config"
	"travel-auth/internal/util"
)

type KafkaProducer struct {
	Writer  *kafka.Writer
	brokers []string
	topic   string
}

func NewKafkaProducer(cfg *config.Config) (*KafkaProducer, error) {
	kc := cfg.Kafka
	if len(kc.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(kc.Brokers...),
		Topic:                  kc.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: !cfg.IsProduction(),
	}

	p := &KafkaProducer{Writer: w, brokers: kc.Brokers, topic: kc.Topic}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		_ = w.Close()
		return nil, err
	}

	util.Info("Kafka producer initialized", util.Any("brokers", kc.Brokers), util.String("topic", kc.Topic))
	return p, nil
}

// Produce writes one keyed message to the configured topic.
func (p *KafkaProducer) Produce(ctx context.Context, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	d := &kafka.Dialer{Timeout: 5 * time.Second, DualStack: true}
	var lastErr error
	for _, b := range p.brokers {
		conn, err := d.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	var ne net.Error
	if errors.As(lastErr, &ne) && ne.Timeout() {
		return fmt.Errorf("kafka brokers timed out: %w", lastErr)
	}
	return fmt.Errorf("kafka brokers unreachable: %w", lastErr)
}

func (p *KafkaProducer) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	if err := p.Writer.Close(); err != nil {
		util.Error("Failed to close Kafka producer", util.ErrorField(err))
		return err
	}
	util.Info("Kafka producer closed")
	return nil
}
