package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFilesystemManager_Exists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewOSFilesystemManager("")

	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "existing file", path: file, want: true},
		{name: "existing directory", path: dir, want: true},
		{name: "missing file", path: filepath.Join(dir, "missing.txt"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Exists(tt.path)
			if err != nil {
				t.Fatalf("Exists() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOSFilesystemManager_Stat(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewOSFilesystemManager("")

	t.Run("regular file", func(t *testing.T) {
		st, err := m.Stat(file)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if !st.Regular {
			t.Error("Regular = false, want true")
		}
		if st.Size != 5 {
			t.Errorf("Size = %d, want 5", st.Size)
		}
		if st.ModTime.IsZero() || st.ChangeTime.IsZero() {
			t.Error("expected non-zero mtime and ctime")
		}
	})

	t.Run("directory is not regular", func(t *testing.T) {
		st, err := m.Stat(dir)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if st.Regular {
			t.Error("Regular = true, want false")
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := m.Stat(filepath.Join(dir, "missing"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Stat() error = %v, want ErrNotExist", err)
		}
	})
}

func TestOSFilesystemManager_MkdirTemp(t *testing.T) {
	work := filepath.Join(t.TempDir(), "work")
	m := NewOSFilesystemManager(work)

	dir, err := m.MkdirTemp("attache-*")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	if filepath.Dir(dir) != work {
		t.Errorf("MkdirTemp() created %s outside %s", dir, work)
	}

	if err := os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory still exists after RemoveAll")
	}
}
