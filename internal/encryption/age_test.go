package encryption

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"attache/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(
		filepath.Join(dir, "keys", "attache.pub"),
		filepath.Join(dir, "keys", "attache.key"),
	)
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	if e.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
	if err := e.Setup(""); err == nil {
		t.Error("Setup(\"\") expected error")
	}
	if err := e.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	passphrase := "test-passphrase"
	e := newTestAgeEncryptor(t)
	if err := e.Setup(passphrase); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	dc, err := e.Unlock(passphrase)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "png header", input: []byte("\x89PNG\r\n\x1a\n")},
		{name: "empty", input: []byte{}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(encrypted.Bytes(), tt.input) {
				t.Error("ciphertext contains plaintext")
			}

			var decrypted bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", decrypted.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_Failures(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup("correct-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("wrong-passphrase"); !errors.Is(err, ErrWrongPassphrase) {
			t.Errorf("Unlock() error = %v, want ErrWrongPassphrase", err)
		}
	})

	t.Run("setup twice", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup("first"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		pub, _ := os.ReadFile(e.pubPath)
		if err := e.Setup("second"); !errors.Is(err, ErrKeysExist) {
			t.Errorf("Setup() error = %v, want ErrKeysExist", err)
		}
		after, _ := os.ReadFile(e.pubPath)
		if !bytes.Equal(pub, after) {
			t.Error("Setup() replaced an existing public key")
		}
	})

	t.Run("file for another key", func(t *testing.T) {
		mine := newTestAgeEncryptor(t)
		other := newTestAgeEncryptor(t)
		for _, e := range []*AgeEncryptor{mine, other} {
			if err := e.Setup("pass"); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}
		}
		var sealed bytes.Buffer
		if err := other.Encrypt(bytes.NewReader([]byte("theirs")), &sealed); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		dc, err := mine.Unlock("pass")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		var out bytes.Buffer
		if err := dc.Decrypt(&sealed, &out); !errors.Is(err, ErrNotRecipient) {
			t.Errorf("Decrypt() error = %v, want ErrNotRecipient", err)
		}
	})

	t.Run("public key from another pair", func(t *testing.T) {
		mine := newTestAgeEncryptor(t)
		other := newTestAgeEncryptor(t)
		for _, e := range []*AgeEncryptor{mine, other} {
			if err := e.Setup("pass"); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}
		}
		pub, err := os.ReadFile(other.pubPath)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(mine.pubPath, pub, 0644); err != nil {
			t.Fatal(err)
		}
		fresh := NewAgeEncryptor(mine.pubPath, mine.keyPath)
		if _, err := fresh.Unlock("pass"); !errors.Is(err, ErrKeyMismatch) {
			t.Errorf("Unlock() error = %v, want ErrKeyMismatch", err)
		}
	})

	t.Run("encrypt before setup", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		var buf bytes.Buffer
		if err := e.Encrypt(bytes.NewReader([]byte("data")), &buf); err == nil {
			t.Error("Encrypt() before Setup should return error")
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if _, err := e.Unlock("passphrase"); err == nil {
			t.Error("Unlock() before Setup should return error")
		}
	})
}

func TestAgeEncryptor_ConcurrentEncrypt(t *testing.T) {
	passphrase := "pass"
	setup := newTestAgeEncryptor(t)
	if err := setup.Setup(passphrase); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	e := NewAgeEncryptor(setup.pubPath, setup.keyPath)
	dc, err := e.Unlock(passphrase)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	outputs := make([]bytes.Buffer, 8)
	var wg sync.WaitGroup
	for i := range outputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Encrypt(bytes.NewReader([]byte("style")), &outputs[i]); err != nil {
				t.Errorf("Encrypt() error = %v", err)
			}
		}()
	}
	wg.Wait()

	for i := range outputs {
		var plain bytes.Buffer
		if err := dc.Decrypt(&outputs[i], &plain); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if plain.String() != "style" {
			t.Errorf("Decrypt() = %q", plain.String())
		}
	}
}

func TestTestEncryptor_RoundTrip(t *testing.T) {
	e := NewTestEncryptor()

	var encrypted bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("hello")), &encrypted); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(encrypted.Bytes(), testHeader) {
		t.Errorf("ciphertext missing test header: %q", encrypted.Bytes())
	}

	dc, _ := e.Unlock("")
	var out bytes.Buffer
	if err := dc.Decrypt(&encrypted, &out); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if out.String() != "hello" {
		t.Errorf("Decrypt() = %q, want %q", out.String(), "hello")
	}

	if err := dc.Decrypt(bytes.NewReader([]byte("not encrypted")), &out); err == nil {
		t.Error("Decrypt() of plaintext expected error")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantErr bool
	}{
		{name: "age default", cfg: config.EncryptionConfig{PublicKeyPath: "/k/a.pub", PrivateKeyPath: "/k/a.key"}},
		{name: "age without keys", cfg: config.EncryptionConfig{Type: "age"}, wantErr: true},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewEncryptorFromConfig() returned nil")
			}
		})
	}
}
