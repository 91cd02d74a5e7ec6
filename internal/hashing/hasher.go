package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"travel-auth/internal/config"
	"travel-auth/internal/util"

	"golang.org/x/crypto/argon2"
)

const algorithm = "argon2id-v1"

var (
	ErrInvalidHash      = errors.New("invalid hash format")
	ErrUnknownPepper    = errors.New("pepper version not found")
	ErrUnknownAlgorithm = errors.New("unsupported hash algorithm")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

// Hasher derives argon2id digests of short secrets. Peppers are versioned by
// their 1-based position in the configured list; new hashes use the last one.
type Hasher struct {
	params  Argon2Params
	peppers []string
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}

	peppers := cfg.Hashing.Peppers
	if len(peppers) == 0 {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic("hashing: pepper: " + err.Error())
		}
		peppers = []string{base64.RawURLEncoding.EncodeToString(b)}
		util.Warn("OTP_PEPPERS not set, using an ephemeral pepper")
	}

	return &Hasher{params: params, peppers: peppers}
}

func (h *Hasher) currentVersion() int {
	return len(h.peppers)
}

func (h *Hasher) pepper(version int) (string, error) {
	if version < 1 || version > len(h.peppers) {
		return "", fmt.Errorf("%w: %d", ErrUnknownPepper, version)
	}
	return h.peppers[version-1], nil
}

// HashOTP hashes code for the given purpose; the purpose is mixed into the
// input so a login digest never verifies an account-link code.
func (h *Hasher) HashOTP(code, purpose string) (*HashResult, error) {
	version := h.currentVersion()
	pepper, err := h.pepper(version)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := h.derive(code, pepper, purpose, salt, h.params.KeyLength)
	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(sum),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     algorithm,
	}, nil
}

func (h *Hasher) VerifyOTP(code, purpose string, stored *HashResult) (bool, error) {
	if stored.Algorithm != "" && stored.Algorithm != algorithm {
		return false, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, stored.Algorithm)
	}
	pepper, err := h.pepper(stored.PepperVersion)
	if err != nil {
		return false, err
	}
	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	want, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil || len(want) == 0 {
		return false, ErrInvalidHash
	}

	got := h.derive(code, pepper, purpose, salt, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *Hasher) derive(code, pepper, purpose string, salt []byte, keyLen uint32) []byte {
	input := code + "|" + pepper + "|" + purpose
	return argon2.IDKey([]byte(input), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, keyLen)
}
