package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"attache/internal/attache"
)

var (
	ErrKeysExist       = errors.New("encryption keys already exist")
	ErrWrongPassphrase = errors.New("wrong passphrase")
	ErrNotRecipient    = errors.New("file is not encrypted for this key")
	ErrKeyMismatch     = errors.New("private key does not match public key")
)

// AgeEncryptor encrypts stored attachments to an X25519 recipient.
//
// The public key file holds the recipient string so providers can encrypt
// unattended. The private key file holds the identity sealed with a
// passphrase (age scrypt); it is only opened by Unlock.
type AgeEncryptor struct {
	pubPath string
	keyPath string

	mu        sync.Mutex
	recipient *age.X25519Recipient // cached after the first Encrypt
}

var _ attache.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(publicKeyPath, privateKeyPath string) *AgeEncryptor {
	return &AgeEncryptor{pubPath: publicKeyPath, keyPath: privateKeyPath}
}

// Setup creates a fresh key pair. It returns ErrKeysExist if either key
// file is already present.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	if e.anyKeyExists() {
		return ErrKeysExist
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	sealed, err := seal(identity, passphrase)
	if err != nil {
		return err
	}

	// Private key first; IsConfigured only reports true once both exist.
	if err := writeKeyFile(e.keyPath, sealed, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := writeKeyFile(e.pubPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	e.mu.Lock()
	e.recipient = identity.Recipient()
	e.mu.Unlock()
	return nil
}

// Encrypt streams r to w as age ciphertext. It is safe for concurrent use.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return err
	}

	ew, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("starting encryption: %w", err)
	}
	if _, err := io.Copy(ew, r); err != nil {
		return fmt.Errorf("encrypting: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("finishing encryption: %w", err)
	}
	return nil
}

// Unlock opens the private key and checks it belongs to the public key.
func (e *AgeEncryptor) Unlock(passphrase string) (attache.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	identity, err := open(sealed, passphrase)
	if err != nil {
		return nil, err
	}

	recipient, err := e.loadRecipient()
	if err != nil {
		return nil, err
	}
	if identity.Recipient().String() != recipient.String() {
		return nil, ErrKeyMismatch
	}
	return &unlockedKey{identity: identity}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	_, errPub := os.Stat(e.pubPath)
	_, errKey := os.Stat(e.keyPath)
	return errPub == nil && errKey == nil
}

func (e *AgeEncryptor) anyKeyExists() bool {
	for _, p := range []string{e.pubPath, e.keyPath} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func (e *AgeEncryptor) loadRecipient() (*age.X25519Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := os.ReadFile(e.pubPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.pubPath, err)
	}
	e.recipient = recipient
	return recipient, nil
}

// seal encrypts the identity string with an scrypt recipient.
func seal(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	return buf.Bytes(), nil
}

// open reverses seal.
func open(sealed []byte, passphrase string) (*age.X25519Identity, error) {
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		if noMatch(err) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(plain)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return identity, nil
}

func noMatch(err error) bool {
	var nm *age.NoIdentityMatchError
	return errors.As(err, &nm) || errors.Is(err, age.ErrIncorrectIdentity)
}

// writeKeyFile writes data through a temp file in path's directory and
// renames it into place.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// unlockedKey decrypts files with an opened identity.
type unlockedKey struct {
	identity *age.X25519Identity
}

var _ attache.DecryptionContext = (*unlockedKey)(nil)

func (k *unlockedKey) Decrypt(r io.Reader, w io.Writer) error {
	dr, err := age.Decrypt(r, k.identity)
	if err != nil {
		if noMatch(err) {
			return ErrNotRecipient
		}
		return fmt.Errorf("reading ciphertext: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting: %w", err)
	}
	return nil
}
