package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"attache/internal/attache"
)

// EncryptedProvider encrypts each file before handing it to the wrapped
// provider. The reported MIME type is that of the plaintext.
type EncryptedProvider struct {
	inner   attache.Provider
	enc     attache.Encryptor
	tempDir string
}

// NewEncryptedProvider wraps inner. Ciphertext is staged in tempDir, or the
// OS temp directory when empty.
func NewEncryptedProvider(inner attache.Provider, enc attache.Encryptor, tempDir string) *EncryptedProvider {
	return &EncryptedProvider{inner: inner, enc: enc, tempDir: tempDir}
}

// URL delegates to the wrapped provider.
func (p *EncryptedProvider) URL(storagePath string) string {
	return p.inner.URL(storagePath)
}

// CreateOrReplace encrypts req.Filename to a temp file and stores that.
func (p *EncryptedProvider) CreateOrReplace(ctx context.Context, req *attache.PersistRequest) (*attache.PersistResult, error) {
	mtype, err := mimetype.DetectFile(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("detecting content type: %w", err)
	}

	src, err := os.Open(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.Filename, err)
	}
	defer src.Close()

	if p.tempDir != "" {
		if err := os.MkdirAll(p.tempDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(p.tempDir, "attache-enc-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := p.enc.Encrypt(src, tmp); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("encrypting %s: %w", req.Filename, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("stat encrypted file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	sealed := *req
	sealed.Filename = tmp.Name()
	sealed.Stat = &attache.FileStat{Size: info.Size(), ModTime: info.ModTime(), ChangeTime: info.ModTime(), Regular: true}
	if req.Stat != nil {
		sealed.Stat.ModTime = req.Stat.ModTime
		sealed.Stat.ChangeTime = req.Stat.ChangeTime
	}

	res, err := p.inner.CreateOrReplace(ctx, &sealed)
	if err != nil {
		return nil, err
	}
	out := attache.PersistResult{MIME: mtype.String()}
	if res != nil {
		out.DefaultURL = res.DefaultURL
	}
	return &out, nil
}

// ValidateSetup requires configured keys and a valid wrapped provider.
func (p *EncryptedProvider) ValidateSetup() error {
	if !p.enc.IsConfigured() {
		return errors.New("encryption keys are not configured (run `attache keys init`)")
	}
	if v, ok := p.inner.(attache.SetupValidator); ok {
		return v.ValidateSetup()
	}
	return nil
}

var (
	_ attache.Provider       = (*EncryptedProvider)(nil)
	_ attache.SetupValidator = (*EncryptedProvider)(nil)
)
