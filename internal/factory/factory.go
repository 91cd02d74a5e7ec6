package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"travel-auth/internal/bucketing"
	"travel-auth/internal/client"
	"travel-auth/internal/config"
	"travel-auth/internal/encryption"
	"travel-auth/internal/events"
	"travel-auth/internal/hashing"
	"travel-auth/internal/oauth"
	"travel-auth/internal/repository/memory"
	redisrepo "travel-auth/internal/repository/redis"
	"travel-auth/internal/repository/scylla"
	"travel-auth/internal/service"
	"travel-auth/internal/tls"
	"travel-auth/internal/util"
)

// Factory owns every external client and the service graph built on them.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher     *hashing.Hasher
	sealer     *encryption.Manager
	buckets    *bucketing.Manager
	dispatcher *events.Dispatcher
	providers  *oauth.Registry

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads configuration from the environment and builds the factory.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return New(cfg)
}

func New(cfg *config.Config) (*Factory, error) {
	f := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		m, err := tls.NewManager(cfg)
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		f.tlsManager = m
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeManagers(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	f.serviceFactory = service.NewServiceFactory(cfg, f.stores(), f.hasher, f.sealer, f.providers, f.dispatcher)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Any("event_sinks", f.dispatcher.Sinks()),
	)
	return f, nil
}

// initializeClients connects the storage and event backends. Redis and Scylla
// are required in production; elsewhere a failure falls back to in-process
// stores. Event sinks are optional everywhere.
func (f *Factory) initializeClients(ctx context.Context) error {
	var required []error

	if rc, err := client.NewRedisClient(f.config); err != nil {
		required = append(required, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
	}

	if sc, err := scylla.NewScyllaClient(f.config); err != nil {
		required = append(required, fmt.Errorf("scylla: %w", err))
	} else if err := sc.Migrate(ctx); err != nil {
		sc.Close()
		required = append(required, fmt.Errorf("scylla migrate: %w", err))
	} else {
		f.scyllaClient = sc
	}

	if len(required) > 0 {
		if f.config.IsProduction() {
			return errors.Join(required...)
		}
		for _, err := range required {
			util.Warn("Backend unavailable, using in-memory store", util.ErrorField(err))
		}
	}

	if f.config.Kafka.Enabled {
		if p, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = p
		}
	}
	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config); err != nil {
			util.Warn("Elasticsearch initialization failed - proceeding without it", util.ErrorField(err))
		} else {
			f.esClient = es
		}
	}
	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without it", util.ErrorField(err))
		} else {
			f.clickhouseClient = ch
		}
	}
	return nil
}

func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)
	f.buckets = bucketing.NewManager(f.config)

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	sealer, err := encryption.NewManager(f.config, kmsClient)
	if err != nil {
		return err
	}
	f.sealer = sealer

	f.providers = oauth.NewRegistryFromConfig(f.config, nil)
	for _, name := range f.providers.Names() {
		p, _ := f.providers.Get(name)
		util.Info("OAuth provider", util.String("provider", name), util.Bool("configured", p.Configured()))
	}

	sinks := []events.Sink{events.LogSink{}}
	if f.kafkaProducer != nil {
		sinks = append(sinks, events.NewKafkaSink(f.kafkaProducer))
	}
	if f.esClient != nil {
		sinks = append(sinks, events.NewElasticsearchSink(f.esClient))
	}
	if f.clickhouseClient != nil {
		ch := events.NewClickHouseSink(f.clickhouseClient)
		if err := ch.EnsureTable(ctx); err != nil {
			util.Warn("ClickHouse events table unavailable - sink disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, ch)
		}
	}
	f.dispatcher = events.NewDispatcher(f.buckets, sinks...)

	util.Info("Managers initialized successfully",
		util.Int("user_buckets", f.buckets.UserBuckets()),
		util.Bool("kms_enabled", kmsClient != nil),
	)
	return nil
}

// stores picks Scylla and Redis where connected and in-process stores
// otherwise.
func (f *Factory) stores() service.Stores {
	var s service.Stores

	if f.scyllaClient != nil {
		s.Users = scylla.NewUserRepository(f.scyllaClient, f.buckets)
		s.Codes = scylla.NewCodeRepository(f.scyllaClient)
		s.Links = scylla.NewLinkRepository(f.scyllaClient)
		s.Sessions = scylla.NewSessionRepository(f.scyllaClient)
	} else {
		s.Users = memory.NewUsers()
		s.Codes = memory.NewCodes()
		s.Links = memory.NewLinks()
		s.Sessions = memory.NewSessions()
	}

	if f.redisClient != nil {
		s.Pending = redisrepo.NewPendingStore(f.redisClient)
		s.Cache = redisrepo.NewSessionCache(f.redisClient)
		s.Limiter = redisrepo.NewRateLimitCache(f.redisClient)
	} else {
		s.Pending = memory.NewPending(time.Now)
		s.Limiter = memory.NewLimiter(time.Now)
	}
	return s
}

// Backends names the backends HealthCheck reports on.
func (f *Factory) Backends() []string {
	var names []string
	if f.redisClient != nil {
		names = append(names, "redis")
	}
	if f.scyllaClient != nil {
		names = append(names, "scylla")
	}
	if f.kafkaProducer != nil {
		names = append(names, "kafka")
	}
	if f.esClient != nil {
		names = append(names, "elasticsearch")
	}
	if f.clickhouseClient != nil {
		names = append(names, "clickhouse")
	}
	return names
}

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	return healthErrors
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

// TLSManager is nil when TLS is disabled.
func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}
