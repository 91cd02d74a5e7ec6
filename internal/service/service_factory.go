package service

import (
	"sync"
	"time"

	"travel-auth/internal/config"
	"travel-auth/internal/encryption"
	"travel-auth/internal/events"
	"travel-auth/internal/hashing"
	"travel-auth/internal/linking"
	"travel-auth/internal/oauth"
	"travel-auth/internal/otp"
	"travel-auth/internal/repository"
	"travel-auth/internal/session"
)

// Stores groups the storage backends the services run on.
type Stores struct {
	Users    repository.UserRepository
	Codes    repository.CodeRepository
	Pending  repository.PendingStore
	Links    repository.LinkRepository
	Sessions repository.SessionRepository
	Cache    repository.SessionCache
	Limiter  repository.SendLimiter
}

// ServiceFactory builds the service graph once and hands out shared instances.
type ServiceFactory struct {
	cfg       *config.Config
	stores    Stores
	hasher    *hashing.Hasher
	sealer    *encryption.Manager
	providers *oauth.Registry
	events    *events.Dispatcher
	now       func() time.Time

	once     sync.Once
	codes    *otp.Service
	binder   *linking.Binder
	sessions *session.Manager
	auth     *AuthService
}

func NewServiceFactory(
	cfg *config.Config,
	stores Stores,
	hasher *hashing.Hasher,
	sealer *encryption.Manager,
	providers *oauth.Registry,
	dispatcher *events.Dispatcher,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:       cfg,
		stores:    stores,
		hasher:    hasher,
		sealer:    sealer,
		providers: providers,
		events:    dispatcher,
		now:       time.Now,
	}
}

// WithClock makes every service the factory builds read time from now. It
// must be called before the first service is requested.
func (f *ServiceFactory) WithClock(now func() time.Time) *ServiceFactory {
	f.now = now
	return f
}

func (f *ServiceFactory) build() {
	f.once.Do(func() {
		f.codes = otp.NewService(f.cfg, f.stores.Codes, f.hasher, f.stores.Limiter).WithClock(f.now)
		f.binder = linking.NewBinder(f.cfg, f.stores.Pending, f.codes, f.sealer).WithClock(f.now)
		f.sessions = session.NewManager(f.cfg, f.stores.Sessions, f.stores.Cache).WithClock(f.now)
		f.auth = NewAuthService(Deps{
			Users:     f.stores.Users,
			Links:     f.stores.Links,
			Codes:     f.codes,
			Binder:    f.binder,
			Sessions:  f.sessions,
			Providers: f.providers,
			Sealer:    f.sealer,
			Events:    f.events,
			ExposeOTP: f.cfg.ExposeOTP(),
		}).WithClock(f.now)
	})
}

func (f *ServiceFactory) AuthService() *AuthService {
	f.build()
	return f.auth
}

func (f *ServiceFactory) Sessions() *session.Manager {
	f.build()
	return f.sessions
}

func (f *ServiceFactory) Binder() *linking.Binder {
	f.build()
	return f.binder
}

func (f *ServiceFactory) Providers() *oauth.Registry {
	return f.providers
}

// Cleanup drops cached key material held by the services.
func (f *ServiceFactory) Cleanup() {
	if f.sealer != nil {
		f.sealer.ClearCache()
	}
}
