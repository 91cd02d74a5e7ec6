package hashing

import (
	"testing"

	"travel-auth/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(peppers ...string) *config.Config {
	return &config.Config{Hashing: config.HashingConfig{
		Argon2MemoryCost:  1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		Peppers:           peppers,
	}}
}

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(testConfig("p1"))

	res, err := h.HashOTP("482913", "login")
	require.NoError(t, err)
	assert.Equal(t, 1, res.PepperVersion)
	assert.Equal(t, "argon2id-v1", res.Algorithm)
	assert.NotContains(t, res.Hash, "482913")

	ok, err := h.VerifyOTP("482913", "login", res)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyOTP("482914", "login", res)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.VerifyOTP("482913", "oauth_link", res)
	require.NoError(t, err)
	assert.False(t, ok, "purpose is part of the digest")
}

func TestSaltsDiffer(t *testing.T) {
	h := NewHasher(testConfig("p1"))
	a, err := h.HashOTP("111111", "login")
	require.NoError(t, err)
	b, err := h.HashOTP("111111", "login")
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestPepperRotationKeepsOldHashes(t *testing.T) {
	old := NewHasher(testConfig("p1"))
	res, err := old.HashOTP("123456", "login")
	require.NoError(t, err)

	rotated := NewHasher(testConfig("p1", "p2"))
	ok, err := rotated.VerifyOTP("123456", "login", res)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh, err := rotated.HashOTP("123456", "login")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.PepperVersion)

	_, err = old.VerifyOTP("123456", "login", fresh)
	assert.ErrorIs(t, err, ErrUnknownPepper)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h := NewHasher(testConfig("p1"))

	_, err := h.VerifyOTP("1", "login", &HashResult{Hash: "!!", Salt: "AA", PepperVersion: 1})
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.VerifyOTP("1", "login", &HashResult{Hash: "AA", Salt: "AA", PepperVersion: 1, Algorithm: "bcrypt"})
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}
