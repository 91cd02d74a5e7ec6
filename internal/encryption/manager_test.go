package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"travel-auth/internal/config"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localManager(t *testing.T) *Manager {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	m, err := NewManager(&config.Config{KMS: config.KMSConfig{MasterKey: key}}, nil)
	require.NoError(t, err)
	return m
}

func TestSealOpenRoundTrip(t *testing.T) {
	m := localManager(t)
	ctx := context.Background()

	sealed, err := m.SealString(ctx, `{"provider":"github"}`, "oauth_pending")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "github")

	got, err := m.OpenString(ctx, sealed, "oauth_pending")
	require.NoError(t, err)
	assert.Equal(t, `{"provider":"github"}`, got)
}

func TestOpenWithWrongPurposeFails(t *testing.T) {
	m := localManager(t)
	ctx := context.Background()

	sealed, err := m.SealString(ctx, "gho_token", "oauth_token")
	require.NoError(t, err)

	_, err = m.OpenString(ctx, sealed, "oauth_pending")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTamperedCiphertextFails(t *testing.T) {
	m := localManager(t)
	ctx := context.Background()

	ed, err := m.EncryptField(ctx, "secret", "p")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(ed.EncryptedValue)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	ed.EncryptedValue = base64.RawURLEncoding.EncodeToString(raw)

	_, err = m.DecryptField(ctx, ed, "p")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = m.OpenString(ctx, "not base64 !", "p")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDifferentMasterKeyCannotOpen(t *testing.T) {
	a := localManager(t)
	b, err := NewManager(&config.Config{}, nil)
	require.NoError(t, err)

	sealed, err := a.SealString(context.Background(), "x", "p")
	require.NoError(t, err)
	_, err = b.OpenString(context.Background(), sealed, "p")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestMasterKeyLength(t *testing.T) {
	_, err := NewManager(&config.Config{KMS: config.KMSConfig{MasterKey: base64.StdEncoding.EncodeToString([]byte("short"))}}, nil)
	require.Error(t, err)
}

type fakeKMS struct {
	key   []byte
	calls int
	fail  bool
}

func (f *fakeKMS) GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	if f.fail {
		return nil, errors.New("throttled")
	}
	f.calls++
	return &kms.GenerateDataKeyOutput{Plaintext: f.key, CiphertextBlob: []byte("wrapped:" + in.EncryptionContext["purpose"])}, nil
}

func (f *fakeKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.calls++
	if string(in.CiphertextBlob) != "wrapped:"+in.EncryptionContext["purpose"] {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: f.key}, nil
}

func TestKMSEnvelope(t *testing.T) {
	fk := &fakeKMS{key: []byte(strings.Repeat("d", 32))}
	m, err := NewManager(&config.Config{KMS: config.KMSConfig{Enabled: true, KeyID: "alias/auth"}}, fk)
	require.NoError(t, err)
	ctx := context.Background()

	ed, err := m.EncryptField(ctx, "ya29.token", "oauth_token")
	require.NoError(t, err)
	assert.Equal(t, "alias/auth", ed.KeyID)

	got, err := m.DecryptField(ctx, ed, "oauth_token")
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", got)

	calls := fk.calls
	_, err = m.DecryptField(ctx, ed, "oauth_token")
	require.NoError(t, err)
	assert.Equal(t, calls, fk.calls, "unwrapped data keys are cached")

	fk.fail = true
	_, err = m.EncryptField(ctx, "x", "oauth_token")
	assert.ErrorIs(t, err, ErrEncryptionFailed)
}
