package storage

import (
	"context"
	"fmt"

	"attache/internal/attache"
)

// Built-in provider names.
const (
	Memory     = "memory"
	FileSystem = "filesystem"
	S3         = "s3"
)

// RegisterBuiltins registers the memory, filesystem and s3 providers.
func RegisterBuiltins(reg *attache.ProviderRegistry) error {
	builtins := []struct {
		name    string
		factory attache.ProviderFactory
	}{
		{Memory, newMemoryFromOptions},
		{FileSystem, newFileSystemFromOptions},
		{S3, newS3FromOptions},
	}
	for _, b := range builtins {
		if err := reg.Register(b.name, b.factory); err != nil {
			return fmt.Errorf("registering %s provider: %w", b.name, err)
		}
	}
	return nil
}

// RegisterEncrypted registers a provider named "encrypted-<name>" that wraps
// the provider registered under name, and returns the new name.
func RegisterEncrypted(reg *attache.ProviderRegistry, name string, enc attache.Encryptor, tempDir string) (string, error) {
	inner, err := reg.Resolve(name)
	if err != nil {
		return "", err
	}
	wrapped := "encrypted-" + name
	err = reg.Register(wrapped, func(ctx context.Context, opts attache.ProviderOptions) (attache.Provider, error) {
		p, err := inner(ctx, opts)
		if err != nil {
			return nil, err
		}
		return NewEncryptedProvider(p, enc, tempDir), nil
	})
	if err != nil {
		return "", err
	}
	return wrapped, nil
}

func newMemoryFromOptions(_ context.Context, opts attache.ProviderOptions) (attache.Provider, error) {
	return NewMemoryProvider(opts.String("base_url")), nil
}

func newFileSystemFromOptions(_ context.Context, opts attache.ProviderOptions) (attache.Provider, error) {
	root, err := opts.Require("root")
	if err != nil {
		return nil, err
	}
	return NewFileSystemProvider(root, opts.String("base_url"))
}

func newS3FromOptions(ctx context.Context, opts attache.ProviderOptions) (attache.Provider, error) {
	bucket, err := opts.Require("bucket")
	if err != nil {
		return nil, err
	}
	return NewS3Provider(ctx, S3Options{
		Bucket:          bucket,
		Region:          opts.String("region"),
		Endpoint:        opts.String("endpoint"),
		Prefix:          opts.String("prefix"),
		BaseURL:         opts.String("base_url"),
		AccessKeyID:     opts.String("access_key_id"),
		SecretAccessKey: opts.String("secret_access_key"),
	})
}
