package security

import (
	"strings"
	"testing"
)

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name        string
		key         []byte
		wantErr     bool
		wantEnabled bool
	}{
		{name: "empty key disables", key: nil, wantEnabled: false},
		{name: "32 byte key", key: make([]byte, 32), wantEnabled: true},
		{name: "short key", key: make([]byte, 16), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && enc.IsEnabled() != tt.wantEnabled {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnabled)
			}
		})
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	sealed, err := enc.Seal([]byte(`{"nonce":"n-1"}`), "access_token:abc")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "n-1") {
		t.Error("sealed value contains plaintext")
	}

	plain, err := enc.Open(sealed, "access_token:abc")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(plain) != `{"nonce":"n-1"}` {
		t.Errorf("Open() = %q", plain)
	}

	if _, err := enc.Open(sealed, "access_token:other"); err == nil {
		t.Error("Open() with different associated data should fail")
	}
	if _, err := enc.Open("not base64!", "x"); err == nil {
		t.Error("Open() of garbage should fail")
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, _ := NewEncryptor(nil)
	sealed, err := enc.Seal([]byte("plain"), "ad")
	if err != nil || sealed != "plain" {
		t.Errorf("Seal() = %q, %v; want passthrough", sealed, err)
	}
	plain, err := enc.Open("plain", "ad")
	if err != nil || string(plain) != "plain" {
		t.Errorf("Open() = %q, %v; want passthrough", plain, err)
	}

	var nilEnc *Encryptor
	if nilEnc.IsEnabled() {
		t.Error("nil encryptor must report disabled")
	}
}

func TestKeyFromBase64(t *testing.T) {
	key, _ := GenerateKey()
	encoded := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if len(decoded) != 32 || len(key) != 32 {
		t.Errorf("key length mismatch")
	}
	if _, err := KeyFromBase64("c2hvcnQ="); err == nil {
		t.Error("short key should fail")
	}
}
