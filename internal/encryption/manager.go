package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"travel-auth/internal/config"
	"travel-auth/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

const (
	envelopeVersion = "v1"
	localKeyID      = "local"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KMSAPI is the subset of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptedData struct {
	EncryptedValue string    `json:"v"`
	EncryptedDEK   string    `json:"k"`
	KeyID          string    `json:"id"`
	Version        string    `json:"ver"`
	CreatedAt      time.Time `json:"t"`
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

// Manager performs AES-256-GCM envelope encryption. Data keys come from KMS
// when enabled, otherwise they are wrapped with a local master key.
type Manager struct {
	kms       KMSAPI
	kmsKeyID  string
	masterKey []byte
	dekCache  sync.Map
}

func NewManager(cfg *config.Config, kmsClient KMSAPI) (*Manager, error) {
	m := &Manager{}
	if cfg.KMS.Enabled {
		if kmsClient == nil {
			return nil, errors.New("kms enabled without a client")
		}
		m.kms = kmsClient
		m.kmsKeyID = cfg.KMS.KeyID
		return m, nil
	}

	if cfg.KMS.MasterKey == "" {
		m.masterKey = make([]byte, 32)
		if _, err := rand.Read(m.masterKey); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		util.Warn("ENCRYPTION_MASTER_KEY not set, sealed data will not survive a restart")
		return m, nil
	}

	key, err := base64.StdEncoding.DecodeString(cfg.KMS.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	m.masterKey = key
	return m, nil
}

func (m *Manager) generateDataKey(ctx context.Context, purpose string) (*dataKey, error) {
	if m.kms != nil {
		out, err := m.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:             aws.String(m.kmsKeyID),
			KeySpec:           types.DataKeySpecAes256,
			EncryptionContext: map[string]string{"purpose": purpose},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: generate data key: %v", ErrEncryptionFailed, err)
		}
		return &dataKey{plaintext: out.Plaintext, ciphertext: out.CiphertextBlob, keyID: m.kmsKeyID}, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	wrapped, err := seal(m.masterKey, key, []byte(purpose))
	if err != nil {
		return nil, err
	}
	return &dataKey{plaintext: key, ciphertext: wrapped, keyID: localKeyID}, nil
}

func (m *Manager) unwrapDataKey(ctx context.Context, wrapped []byte, purpose string) ([]byte, error) {
	cacheKey := purpose + ":" + hashKey(wrapped)
	if cached, ok := m.dekCache.Load(cacheKey); ok {
		return cached.([]byte), nil
	}

	var key []byte
	if m.kms != nil {
		out, err := m.kms.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob:    wrapped,
			EncryptionContext: map[string]string{"purpose": purpose},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt data key: %v", ErrDecryptionFailed, err)
		}
		key = out.Plaintext
	} else {
		var err error
		key, err = open(m.masterKey, wrapped, []byte(purpose))
		if err != nil {
			return nil, err
		}
	}

	m.dekCache.Store(cacheKey, key)
	return key, nil
}

// EncryptField seals plaintext under a fresh data key bound to purpose.
func (m *Manager) EncryptField(ctx context.Context, plaintext, purpose string) (*EncryptedData, error) {
	dk, err := m.generateDataKey(ctx, purpose)
	if err != nil {
		return nil, err
	}
	ct, err := seal(dk.plaintext, []byte(plaintext), []byte(purpose))
	if err != nil {
		return nil, err
	}
	return &EncryptedData{
		EncryptedValue: base64.RawURLEncoding.EncodeToString(ct),
		EncryptedDEK:   base64.RawURLEncoding.EncodeToString(dk.ciphertext),
		KeyID:          dk.keyID,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (m *Manager) DecryptField(ctx context.Context, data *EncryptedData, purpose string) (string, error) {
	if data == nil || data.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported envelope", ErrDecryptionFailed)
	}
	wrapped, err := base64.RawURLEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK encoding", ErrDecryptionFailed)
	}
	ct, err := base64.RawURLEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}
	key, err := m.unwrapDataKey(ctx, wrapped, purpose)
	if err != nil {
		return "", err
	}
	pt, err := open(key, ct, []byte(purpose))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// SealString encrypts plaintext into a single URL-safe string, suitable for a
// cookie value or a text column.
func (m *Manager) SealString(ctx context.Context, plaintext, purpose string) (string, error) {
	ed, err := m.EncryptField(ctx, plaintext, purpose)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(ed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (m *Manager) OpenString(ctx context.Context, sealed, purpose string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecryptionFailed)
	}
	var ed EncryptedData
	if err := json.Unmarshal(raw, &ed); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}
	return m.DecryptField(ctx, &ed, purpose)
}

func (m *Manager) ClearCache() {
	m.dekCache.Range(func(k, _ interface{}) bool {
		m.dekCache.Delete(k)
		return true
	})
}

func seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	n := gcm.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	pt, err := gcm.Open(nil, ciphertext[:n], ciphertext[n:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func hashKey(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
