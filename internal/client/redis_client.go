package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"travel-auth/internal/config"
	"travel-auth/internal/util"
)

// ErrKeyNotFound is returned by Get for a missing key.
var ErrKeyNotFound = errors.New("redis key not found")

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient dials Redis from a redis:// or rediss:// URL. rediss uses
// the CA and client pair named by REDIS_TLS_CA_FILE, REDIS_TLS_CERT_FILE and
// REDIS_TLS_KEY_FILE.
func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	rc := cfg.Redis
	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Password == "" {
		opts.Password = rc.Password
	}
	if rc.DB != 0 {
		opts.DB = rc.DB
	}
	if rc.PoolSize > 0 {
		opts.PoolSize = rc.PoolSize
		opts.MinIdleConns = rc.PoolSize / 4
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	if strings.HasPrefix(rc.URL, "rediss://") {
		tlsCfg, err := redisTLS()
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsCfg
	}

	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	util.Info("Redis client initialized", util.String("addr", opts.Addr), util.Int("db", opts.DB))
	return &RedisClient{Client: c}, nil
}

func redisTLS() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if ca := os.Getenv("REDIS_TLS_CA_FILE"); ca != "" {
		pem, err := os.ReadFile(ca)
		if err != nil {
			return nil, fmt.Errorf("read redis ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("redis ca: no certificates found")
		}
		tlsCfg.RootCAs = pool
	}
	certFile, keyFile := os.Getenv("REDIS_TLS_CERT_FILE"), os.Getenv("REDIS_TLS_KEY_FILE")
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (r *RedisClient) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	if err := r.Client.Close(); err != nil {
		util.Error("Failed to close Redis client", util.ErrorField(err))
		return err
	}
	util.Info("Redis client closed")
	return nil
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return val, err
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

// IncrWithExpire increments key and sets its expiry only when the key is new,
// giving a fixed window that starts at the first hit.
func (r *RedisClient) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
