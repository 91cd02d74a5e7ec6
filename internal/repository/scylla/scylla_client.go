package scylla

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gocql/gocql"

	"travel-auth/internal/config"
	"travel-auth/internal/util"
)

type ScyllaClient struct {
	Session *gocql.Session
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	sc := cfg.Scylla
	if len(sc.Nodes) == 0 {
		return nil, errors.New("scylla: no nodes configured")
	}

	cluster := gocql.NewCluster(sc.Nodes...)
	cluster.Keyspace = sc.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	if ca := os.Getenv("SCYLLA_CA_FILE"); ca != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 ca,
			CertPath:               os.Getenv("SCYLLA_CERT_FILE"),
			KeyPath:                os.Getenv("SCYLLA_KEY_FILE"),
			EnableHostVerification: true,
		}
	}
	if sc.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: sc.Username, Password: sc.Password}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized", util.Any("nodes", sc.Nodes), util.String("keyspace", sc.Keyspace))
	return &ScyllaClient{Session: session}, nil
}

// Migrate creates the tables this service owns if they are missing.
func (s *ScyllaClient) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s != nil && s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var name string
	if err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&name); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	return nil
}

func (s *ScyllaClient) query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

// exec retries idempotent writes on timeouts.
func (s *ScyllaClient) exec(ctx context.Context, stmt string, values ...interface{}) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.query(ctx, stmt, values...).Idempotent(true).Exec()
		if err == nil || !isTimeout(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return err
}

// cas runs a lightweight transaction and reports whether it applied.
func (s *ScyllaClient) cas(ctx context.Context, stmt string, values ...interface{}) (bool, error) {
	return s.query(ctx, stmt, values...).MapScanCAS(map[string]interface{}{})
}

func isTimeout(err error) bool {
	var wt *gocql.RequestErrWriteTimeout
	var rt *gocql.RequestErrReadTimeout
	return errors.As(err, &wt) || errors.As(err, &rt) || errors.Is(err, gocql.ErrTimeoutNoResponse)
}

// rowTTL keeps a row for its lifetime plus a retention window, in seconds.
func rowTTL(expiresAt time.Time, retention time.Duration) int {
	ttl := int(time.Until(expiresAt.Add(retention)) / time.Second)
	if ttl < 1 {
		return 1
	}
	return ttl
}
