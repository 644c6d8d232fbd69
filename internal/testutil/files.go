package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteImage writes a w x h image to dir/name, encoded by name's extension.
func WriteImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := writeImage(path, w, h); err != nil {
		t.Fatalf("writing image: %v", err)
	}
	return path
}

// WriteFile writes data to dir/name.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	return path
}
