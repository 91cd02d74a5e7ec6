package events

import (
	"context"
	"encoding/json"
	"fmt"

	"travel-auth/internal/client"
	"travel-auth/internal/models"
	"travel-auth/internal/util"
)

// LogSink writes events to the service log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Write(_ context.Context, e *models.AuthEvent) error {
	util.Info("Auth event",
		util.String("event_id", e.EventID),
		util.String("event_type", string(e.Type)),
		util.String("user_id", e.UserID),
		util.String("phone", e.Phone),
		util.String("provider", e.Provider),
		util.String("ip", e.IPAddress),
	)
	return nil
}

type KafkaSink struct {
	producer *client.KafkaProducer
}

func NewKafkaSink(p *client.KafkaProducer) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Write keys messages by user so one user's events stay ordered in a partition.
func (s *KafkaSink) Write(ctx context.Context, e *models.AuthEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := e.UserID
	if key == "" {
		key = e.Phone
	}
	return s.producer.Produce(ctx, []byte(key), body, map[string]string{
		"event_type": string(e.Type),
		"event_id":   e.EventID,
	})
}

type ClickHouseSink struct {
	client *client.ClickHouseClient
}

func NewClickHouseSink(c *client.ClickHouseClient) *ClickHouseSink {
	return &ClickHouseSink{client: c}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the analytics table when it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	return s.client.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id String,
		event_bucket UInt32,
		event_date Date,
		event_type LowCardinality(String),
		user_id String,
		phone_masked String,
		provider LowCardinality(String),
		ip_address String,
		user_agent String,
		occurred_at DateTime64(3),
		details Map(String, String)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(event_date)
	ORDER BY (event_type, event_date, event_bucket, occurred_at)`, s.client.Table()))
}

func (s *ClickHouseSink) Write(ctx context.Context, e *models.AuthEvent) error {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (event_id, event_bucket, event_date, event_type, user_id,
		phone_masked, provider, ip_address, user_agent, occurred_at, details)`, s.client.Table())
	return s.client.Insert(ctx, query, [][]interface{}{{
		e.EventID, uint32(e.EventBucket), e.OccurredAt, string(e.Type), e.UserID,
		e.Phone, e.Provider, e.IPAddress, e.UserAgent, e.OccurredAt, details,
	}})
}

type ElasticsearchSink struct {
	client *client.ESClient
}

func NewElasticsearchSink(c *client.ESClient) *ElasticsearchSink {
	return &ElasticsearchSink{client: c}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

// Write indexes into a daily index so old audit data can be dropped by date.
func (s *ElasticsearchSink) Write(ctx context.Context, e *models.AuthEvent) error {
	return s.client.IndexDocument(ctx, s.client.Index()+"-"+e.EventDate, e.EventID, e)
}
