package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/renderlite/renderlite/pkg/types"
)

const (
	// ivSize is the AEAD nonce length used by the envelope format
	ivSize = 16
	// MaskedValue replaces every env value in API responses
	MaskedValue = "********"
)

// Manager handles encryption and decryption of secret values
type Manager struct {
	aead cipher.AEAD
}

// NewManager creates a secrets manager from a 32-byte AES-256 key
func NewManager(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Manager{aead: aead}, nil
}

// NewManagerFromHex creates a secrets manager from a 64-char hex key
func NewManagerFromHex(hexKey string) (*Manager, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return NewManager(key)
}

// Encrypt seals plaintext into the storage envelope
// hex(iv):hex(authTag):hex(ciphertext)
func (m *Manager) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	// Seal appends the auth tag to the ciphertext; the envelope stores
	// them as separate components
	sealed := m.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagAt := len(sealed) - m.aead.Overhead()
	ciphertext, tag := sealed[:tagAt], sealed[tagAt:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext)), nil
}

// Decrypt opens an envelope produced by Encrypt. Decryption authenticates;
// a tampered ciphertext or tag fails.
func (m *Manager) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid envelope: expected 3 components, got %d", len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid envelope iv: %w", err)
	}
	if len(iv) != ivSize {
		return "", fmt.Errorf("invalid envelope iv: expected %d bytes, got %d", ivSize, len(iv))
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid envelope auth tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("invalid envelope ciphertext: %w", err)
	}

	plaintext, err := m.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptMap encrypts every value of the map, leaving keys untouched
func (m *Manager) EncryptMap(env map[string]string) (types.EnvMap, error) {
	out := make(types.EnvMap, len(env))
	for k, v := range env {
		enc, err := m.Encrypt(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt env %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptMap decrypts every value of the map. Called only at job
// construction time in the worker process.
func (m *Manager) DecryptMap(env types.EnvMap) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for k, v := range env {
		plain, err := m.Decrypt(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt env %q: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}

// MaskMap returns a copy of the map with every value masked, for API
// responses
func MaskMap(env types.EnvMap) map[string]string {
	out := make(map[string]string, len(env))
	for k := range env {
		out[k] = MaskedValue
	}
	return out
}

// HashSHA256 returns the hex SHA-256 digest of s, for non-reversible
// fingerprints
func HashSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SignPayload computes the hex HMAC-SHA256 of body under secret
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time. A
// "sha256=" prefix on the presented signature is accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	presented, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(presented, mac.Sum(nil))
}

// GenerateWebhookSecret mints a random 32-byte hex secret
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
