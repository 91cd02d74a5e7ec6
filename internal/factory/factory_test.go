package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"travel-auth/internal/config"
	"travel-auth/internal/repository/memory"
)

func TestStoresFallBackToMemory(t *testing.T) {
	f := &Factory{config: &config.Config{Environment: config.EnvDevelopment}}

	s := f.stores()
	assert.IsType(t, &memory.Users{}, s.Users)
	assert.IsType(t, &memory.Codes{}, s.Codes)
	assert.IsType(t, &memory.Links{}, s.Links)
	assert.IsType(t, &memory.Sessions{}, s.Sessions)
	assert.IsType(t, &memory.Pending{}, s.Pending)
	assert.IsType(t, &memory.Limiter{}, s.Limiter)
	assert.Nil(t, s.Cache)

	assert.Empty(t, f.Backends())
	assert.Empty(t, f.HealthCheck(context.Background()))
	f.Close()
}
