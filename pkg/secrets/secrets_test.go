package secrets

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/renderlite/renderlite/pkg/types"
)

func testKey() []byte {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))
	return key
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewManager() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && m == nil {
				t.Error("NewManager() returned nil without error")
			}
		})
	}
}

func TestNewManagerFromHex(t *testing.T) {
	valid := hex.EncodeToString(testKey())

	tests := []struct {
		name    string
		hexKey  string
		wantErr bool
	}{
		{"valid 64-char hex", valid, false},
		{"not hex", strings.Repeat("zz", 32), true},
		{"wrong length", "abcd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManagerFromHex(tt.hexKey)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewManagerFromHex() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	m, err := NewManager(testKey())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple value", "postgres://user:pass@db:5432/app"},
		{"empty value", ""},
		{"unicode", "pässwörd-日本語"},
		{"json payload", `{"client_id":"abc","client_secret":"xyz"}`},
		{"long value", strings.Repeat("secret", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := m.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			parts := strings.Split(envelope, ":")
			if len(parts) != 3 {
				t.Fatalf("envelope has %d components, want 3", len(parts))
			}
			if len(parts[0]) != 32 {
				t.Errorf("iv component is %d hex chars, want 32", len(parts[0]))
			}
			if len(parts[1]) != 32 {
				t.Errorf("auth tag component is %d hex chars, want 32", len(parts[1]))
			}

			decrypted, err := m.Decrypt(envelope)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("round trip = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	m, _ := NewManager(testKey())

	first, err := m.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("two encryptions of the same plaintext produced identical envelopes")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	m, _ := NewManager(testKey())

	envelope, err := m.Encrypt("tamper target")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(envelope, ":")

	flip := func(s string) string {
		b := []byte(s)
		if b[0] == 'a' {
			b[0] = 'b'
		} else {
			b[0] = 'a'
		}
		return string(b)
	}

	tests := []struct {
		name     string
		envelope string
	}{
		{"tampered ciphertext", parts[0] + ":" + parts[1] + ":" + flip(parts[2])},
		{"tampered auth tag", parts[0] + ":" + flip(parts[1]) + ":" + parts[2]},
		{"tampered iv", flip(parts[0]) + ":" + parts[1] + ":" + parts[2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Decrypt(tt.envelope); err == nil {
				t.Error("Decrypt() accepted a tampered envelope")
			}
		})
	}
}

func TestDecryptRejectsMalformedEnvelopes(t *testing.T) {
	m, _ := NewManager(testKey())

	tests := []struct {
		name     string
		envelope string
	}{
		{"empty", ""},
		{"one component", "deadbeef"},
		{"two components", "dead:beef"},
		{"four components", "de:ad:be:ef"},
		{"non-hex iv", "zz:00:00"},
		{"short iv", "dead:beef:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Decrypt(tt.envelope); err == nil {
				t.Errorf("Decrypt(%q) accepted a malformed envelope", tt.envelope)
			}
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	key2 := make([]byte, 32)
	copy(key2, []byte("another-32-byte-encryption-key!!"))

	m1, _ := NewManager(testKey())
	m2, _ := NewManager(key2)

	envelope, err := m1.Encrypt("secret data")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m2.Decrypt(envelope); err == nil {
		t.Error("Decrypt() should fail with a different key")
	}
}

func TestEncryptMapDecryptMapRoundtrip(t *testing.T) {
	m, _ := NewManager(testKey())

	env := map[string]string{
		"DATABASE_URL": "postgres://user:pass@db/app",
		"API_KEY":      "sk-123456",
		"EMPTY":        "",
	}

	encrypted, err := m.EncryptMap(env)
	if err != nil {
		t.Fatalf("EncryptMap() error = %v", err)
	}
	for k, v := range encrypted {
		if v == env[k] {
			t.Errorf("value for %q was not encrypted", k)
		}
	}

	decrypted, err := m.DecryptMap(encrypted)
	if err != nil {
		t.Fatalf("DecryptMap() error = %v", err)
	}
	if len(decrypted) != len(env) {
		t.Fatalf("DecryptMap() returned %d entries, want %d", len(decrypted), len(env))
	}
	for k, v := range env {
		if decrypted[k] != v {
			t.Errorf("decrypted[%q] = %q, want %q", k, decrypted[k], v)
		}
	}
}

func TestMaskMap(t *testing.T) {
	masked := MaskMap(types.EnvMap{"A": "envelope-a", "B": "envelope-b"})
	if len(masked) != 2 {
		t.Fatalf("MaskMap() returned %d entries, want 2", len(masked))
	}
	for k, v := range masked {
		if v != MaskedValue {
			t.Errorf("masked[%q] = %q, want %q", k, v, MaskedValue)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec-test"
	body := []byte(`{"ref":"refs/heads/main"}`)
	valid := SignPayload(secret, body)

	tests := []struct {
		name      string
		signature string
		body      []byte
		want      bool
	}{
		{"valid signature", valid, body, true},
		{"valid with sha256 prefix", "sha256=" + valid, body, true},
		{"wrong signature", strings.Repeat("0", 64), body, false},
		{"tampered body", valid, []byte(`{"ref":"refs/heads/other"}`), false},
		{"not hex", "not-a-signature", body, false},
		{"empty", "", body, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(secret, tt.body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashSHA256(t *testing.T) {
	got := HashSHA256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("HashSHA256() = %q, want %q", got, want)
	}
}

func TestGenerateWebhookSecret(t *testing.T) {
	a, err := GenerateWebhookSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateWebhookSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Errorf("secret length = %d hex chars, want 64", len(a))
	}
	if a == b {
		t.Error("two generated secrets are identical")
	}
}
