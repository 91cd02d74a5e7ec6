package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	AllowOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	Table    string
}

// KMSConfig controls envelope encryption. With Enabled=false data keys are
// wrapped locally with MasterKey (base64, 32 bytes).
type KMSConfig struct {
	Enabled   bool
	KeyID     string
	Region    string
	MasterKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers are ordered oldest first; the last one hashes new codes.
	Peppers []string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type OTPConfig struct {
	Length          int
	TTL             time.Duration
	MaxAttempts     int
	MaxSendsPerHour int
	// ExposeCode returns the code in the send response. Never honoured in production.
	ExposeCode bool
}

type SessionConfig struct {
	TTL           time.Duration
	CookieName    string
	PendingTTL    time.Duration
	PendingCookie string
	StateCookie   string
	CacheTTL      time.Duration
}

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	// Endpoint overrides, empty means the provider default.
	AuthURL    string
	TokenURL   string
	ProfileURL string
	EmailsURL  string
}

type OAuthConfig struct {
	Google OAuthProviderConfig
	GitHub OAuthProviderConfig
}

type AppConfig struct {
	BaseURL         string
	LoginPath       string
	VerifyPhonePath string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	OTP           OTPConfig
	Session       SessionConfig
	OAuth         OAuthConfig
	App           AppConfig
	RateLimit     RateLimitConfig
}

var (
	current *Config
	mu      sync.RWMutex
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", EnvDevelopment)

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_TLS_PORT", 8443)
	v.SetDefault("SERVER_ENABLE_TLS", false)
	v.SetDefault("SERVER_AUTOCERT", false)
	v.SetDefault("SERVER_AUTOCERT_DIR", "./certs")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")
	v.SetDefault("SERVER_ALLOW_ORIGINS", "http://localhost:3000")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)

	v.SetDefault("SCYLLA_NODES", "localhost:9042")
	v.SetDefault("SCYLLA_KEYSPACE", "travel_auth")

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "auth-events")

	v.SetDefault("ELASTICSEARCH_ENABLED", false)
	v.SetDefault("ELASTICSEARCH_URL", "http://localhost:9200")
	v.SetDefault("ELASTICSEARCH_INDEX", "auth-events")

	v.SetDefault("CLICKHOUSE_ENABLED", false)
	v.SetDefault("CLICKHOUSE_URL", "localhost:9000")
	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CLICKHOUSE_TABLE", "auth_events")

	v.SetDefault("KMS_ENABLED", false)
	v.SetDefault("KMS_REGION", "ap-south-1")

	v.SetDefault("ARGON2_MEMORY_COST", 64*1024)
	v.SetDefault("ARGON2_TIME_COST", 1)
	v.SetDefault("ARGON2_PARALLELISM", 2)

	v.SetDefault("USER_BUCKETS", 256)
	v.SetDefault("EVENT_BUCKETS", 64)

	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_MAX_SENDS_PER_HOUR", 5)
	v.SetDefault("OTP_EXPOSE_CODE", true)

	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("SESSION_COOKIE", "session_token")
	v.SetDefault("SESSION_CACHE_TTL", "15m")
	v.SetDefault("OAUTH_PENDING_TTL", "10m")
	v.SetDefault("OAUTH_PENDING_COOKIE", "oauth_pending")
	v.SetDefault("OAUTH_STATE_COOKIE", "oauth_state")

	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("APP_LOGIN_PATH", "/auth/login")
	v.SetDefault("APP_VERIFY_PHONE_PATH", "/auth/oauth-verify-phone")

	v.SetDefault("RATE_LIMIT_RPS", 2.0)
	v.SetDefault("RATE_LIMIT_BURST", 5)
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v)

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg
}

// Get returns the last loaded configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Environment: strings.ToLower(v.GetString("ENVIRONMENT")),
		Server: ServerConfig{
			Host:         v.GetString("SERVER_HOST"),
			Port:         v.GetInt("SERVER_PORT"),
			TLSPort:      v.GetInt("SERVER_TLS_PORT"),
			EnableTLS:    v.GetBool("SERVER_ENABLE_TLS"),
			AutoCert:     v.GetBool("SERVER_AUTOCERT"),
			Domain:       v.GetString("SERVER_DOMAIN"),
			Email:        v.GetString("SERVER_EMAIL"),
			CertFile:     v.GetString("SERVER_CERT_FILE"),
			KeyFile:      v.GetString("SERVER_KEY_FILE"),
			AutoCertDir:  v.GetString("SERVER_AUTOCERT_DIR"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
			AllowOrigins: splitList(v.GetString("SERVER_ALLOW_ORIGINS")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Redis: RedisConfig{
			URL:      v.GetString("REDIS_URL"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(v.GetString("SCYLLA_NODES")),
			Keyspace: v.GetString("SCYLLA_KEYSPACE"),
			Username: v.GetString("SCYLLA_USERNAME"),
			Password: v.GetString("SCYLLA_PASSWORD"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("KAFKA_ENABLED"),
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  v.GetBool("ELASTICSEARCH_ENABLED"),
			URL:      v.GetString("ELASTICSEARCH_URL"),
			Username: v.GetString("ELASTICSEARCH_USERNAME"),
			Password: v.GetString("ELASTICSEARCH_PASSWORD"),
			Index:    v.GetString("ELASTICSEARCH_INDEX"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  v.GetBool("CLICKHOUSE_ENABLED"),
			URL:      v.GetString("CLICKHOUSE_URL"),
			Username: v.GetString("CLICKHOUSE_USERNAME"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
			Table:    v.GetString("CLICKHOUSE_TABLE"),
		},
		KMS: KMSConfig{
			Enabled:   v.GetBool("KMS_ENABLED"),
			KeyID:     v.GetString("KMS_KEY_ID"),
			Region:    v.GetString("KMS_REGION"),
			MasterKey: v.GetString("ENCRYPTION_MASTER_KEY"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  v.GetInt("ARGON2_MEMORY_COST"),
			Argon2TimeCost:    v.GetInt("ARGON2_TIME_COST"),
			Argon2Parallelism: v.GetInt("ARGON2_PARALLELISM"),
			Peppers:           splitList(v.GetString("OTP_PEPPERS")),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  v.GetInt("USER_BUCKETS"),
			EventBuckets: v.GetInt("EVENT_BUCKETS"),
		},
		OTP: OTPConfig{
			Length:          v.GetInt("OTP_LENGTH"),
			TTL:             v.GetDuration("OTP_TTL"),
			MaxAttempts:     v.GetInt("OTP_MAX_ATTEMPTS"),
			MaxSendsPerHour: v.GetInt("OTP_MAX_SENDS_PER_HOUR"),
			ExposeCode:      v.GetBool("OTP_EXPOSE_CODE"),
		},
		Session: SessionConfig{
			TTL:           v.GetDuration("SESSION_TTL"),
			CookieName:    v.GetString("SESSION_COOKIE"),
			CacheTTL:      v.GetDuration("SESSION_CACHE_TTL"),
			PendingTTL:    v.GetDuration("OAUTH_PENDING_TTL"),
			PendingCookie: v.GetString("OAUTH_PENDING_COOKIE"),
			StateCookie:   v.GetString("OAUTH_STATE_COOKIE"),
		},
		OAuth: OAuthConfig{
			Google: OAuthProviderConfig{
				ClientID:     v.GetString("GOOGLE_CLIENT_ID"),
				ClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
				AuthURL:      v.GetString("GOOGLE_AUTH_URL"),
				TokenURL:     v.GetString("GOOGLE_TOKEN_URL"),
				ProfileURL:   v.GetString("GOOGLE_PROFILE_URL"),
			},
			GitHub: OAuthProviderConfig{
				ClientID:     v.GetString("GITHUB_CLIENT_ID"),
				ClientSecret: v.GetString("GITHUB_CLIENT_SECRET"),
				AuthURL:      v.GetString("GITHUB_AUTH_URL"),
				TokenURL:     v.GetString("GITHUB_TOKEN_URL"),
				ProfileURL:   v.GetString("GITHUB_PROFILE_URL"),
				EmailsURL:    v.GetString("GITHUB_EMAILS_URL"),
			},
		},
		App: AppConfig{
			BaseURL:         strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),
			LoginPath:       v.GetString("APP_LOGIN_PATH"),
			VerifyPhonePath: v.GetString("APP_VERIFY_PHONE_PATH"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks settings that must hold before the server starts.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.OTP.Length < 4 || c.OTP.Length > 9 {
		return errors.New("OTP_LENGTH must be between 4 and 9")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.Bucketing.UserBuckets <= 0 || c.Bucketing.EventBuckets <= 0 {
		return errors.New("bucket counts must be positive")
	}
	if c.IsProduction() {
		if !c.KMS.Enabled && c.KMS.MasterKey == "" {
			return errors.New("ENCRYPTION_MASTER_KEY or KMS is required in production")
		}
		if len(c.Hashing.Peppers) == 0 {
			return errors.New("OTP_PEPPERS is required in production")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// ExposeOTP reports whether issued codes may be returned to the client.
func (c *Config) ExposeOTP() bool {
	return c.OTP.ExposeCode && !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CallbackURL is the redirect URI registered with the provider.
func (c *Config) CallbackURL(provider string) string {
	return fmt.Sprintf("%s/auth/oauth/%s/callback", c.App.BaseURL, provider)
}
