package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"travel-auth/internal/config"
	"travel-auth/internal/util"
)

type ClickHouseClient struct {
	conn  driver.Conn
	table string
}

func NewClickHouseClient(cfg *config.Config) (*ClickHouseClient, error) {
	cc := cfg.Clickhouse
	opts := &ch.Options{
		Addr: []string{hostPort(cc.URL)},
		Auth: ch.Auth{
			Database: cc.Database,
			Username: cc.Username,
			Password: cc.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
	if cfg.IsProduction() || strings.HasPrefix(cc.URL, "https://") {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	util.Info("ClickHouse client initialized", util.String("addr", opts.Addr[0]), util.String("database", cc.Database))
	return &ClickHouseClient{conn: conn, table: cc.Table}, nil
}

func (c *ClickHouseClient) Table() string { return c.table }

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// Insert sends rows in a single native batch.
func (c *ClickHouseClient) Insert(ctx context.Context, query string, rows [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append row: %w", err)
		}
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", util.ErrorField(err))
		return err
	}
	return nil
}

func hostPort(raw string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "http://"), "https://")
	if !strings.Contains(s, ":") {
		return s + ":9000"
	}
	return s
}
