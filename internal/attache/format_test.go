package attache_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"attache/internal/attache"
	"attache/internal/testutil"
)

func TestFormatRegistry_Defaults(t *testing.T) {
	r := attache.NewFormatRegistry()

	want := []string{"GIF", "JPEG", "PNG", "TIFF"}
	if got := r.Formats(); !reflect.DeepEqual(got, want) {
		t.Errorf("Formats() = %v, want %v", got, want)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"PNG", true},
		{"png", true},
		{" jpeg ", true},
		{"WEBP", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := r.IsProcessable(tt.name); got != tt.want {
			t.Errorf("IsProcessable(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFormatRegistry_Register(t *testing.T) {
	r := attache.NewFormatRegistry()
	r.Register("webp")
	r.Register("WEBP")
	r.Register("  ")

	if !r.IsProcessable("WebP") {
		t.Error("IsProcessable(WebP) = false after Register")
	}
	if got := len(r.Formats()); got != 5 {
		t.Errorf("len(Formats()) = %d, want 5", got)
	}
}

func capabilityEngine() *testutil.ImageEngine {
	e := testutil.NewImageEngine()
	e.Formats = []attache.FormatCapability{
		{Name: "PNG", Read: true, Write: true, Blob: true},
		{Name: "GIF", Read: true, Write: true, Multi: true, Blob: true},
		{Name: "PDF", Read: true, Write: true, Multi: true},
		{Name: "XPS", Read: true},
		{Name: "HTML", Write: true},
		{Name: "png", Read: true, Write: true},
	}
	return e
}

func TestFormatRegistry_Query(t *testing.T) {
	tests := []struct {
		name    string
		flags   attache.CapabilityFlags
		want    []string
		wantErr error
	}{
		{name: "read", flags: attache.CapabilityFlags{Read: true}, want: []string{"GIF", "PDF", "PNG", "XPS"}},
		{name: "read and write", flags: attache.CapabilityFlags{Read: true, Write: true}, want: []string{"GIF", "PDF", "PNG"}},
		{name: "multi and blob", flags: attache.CapabilityFlags{Multi: true, Blob: true}, want: []string{"GIF"}},
		{name: "write only", flags: attache.CapabilityFlags{Write: true}, want: []string{"GIF", "HTML", "PDF", "PNG"}},
		{name: "no flags", flags: attache.CapabilityFlags{}, wantErr: attache.ErrNoCapabilityFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := attache.NewFormatRegistry()
			before := r.Formats()

			got, err := r.Query(context.Background(), capabilityEngine(), tt.flags)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Query() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Query() = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(r.Formats(), before) {
				t.Errorf("Query() changed the registry: %v", r.Formats())
			}
		})
	}
}

func TestFormatRegistry_Refresh(t *testing.T) {
	t.Run("replaces the set", func(t *testing.T) {
		r := attache.NewFormatRegistry()

		got, err := r.Refresh(context.Background(), capabilityEngine(), attache.CapabilityFlags{Multi: true})
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		want := []string{"GIF", "PDF"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Refresh() = %v, want %v", got, want)
		}
		if !reflect.DeepEqual(r.Formats(), want) {
			t.Errorf("Formats() = %v, want %v", r.Formats(), want)
		}
		if r.IsProcessable("JPEG") {
			t.Error("JPEG should no longer be processable")
		}
	})

	t.Run("empty result keeps the set", func(t *testing.T) {
		r := attache.NewFormatRegistry()
		e := testutil.NewImageEngine()
		e.Formats = []attache.FormatCapability{{Name: "XPS", Read: true}}

		_, err := r.Refresh(context.Background(), e, attache.CapabilityFlags{Write: true})
		if !errors.Is(err, attache.ErrNoFormats) {
			t.Fatalf("Refresh() error = %v, want ErrNoFormats", err)
		}
		if !reflect.DeepEqual(r.Formats(), attache.NewFormatRegistry().Formats()) {
			t.Errorf("Formats() = %v, want defaults", r.Formats())
		}
	})

	t.Run("query failure keeps the set", func(t *testing.T) {
		r := attache.NewFormatRegistry()
		r.Register("WEBP")
		e := testutil.NewImageEngine()
		e.ListErr = errors.New("convert: not found")

		if _, err := r.Refresh(context.Background(), e, attache.CapabilityFlags{Read: true}); err == nil {
			t.Fatal("Refresh() expected error")
		}
		if !r.IsProcessable("WEBP") || !r.IsProcessable("PNG") {
			t.Errorf("Formats() = %v, want unchanged", r.Formats())
		}
	})

	t.Run("no flags", func(t *testing.T) {
		r := attache.NewFormatRegistry()
		if _, err := r.Refresh(context.Background(), capabilityEngine(), attache.CapabilityFlags{}); !errors.Is(err, attache.ErrNoCapabilityFlags) {
			t.Errorf("Refresh() error = %v, want ErrNoCapabilityFlags", err)
		}
	})
}

func TestFormatRegistry_Replace(t *testing.T) {
	r := attache.NewFormatRegistry()

	r.Replace(nil)
	if len(r.Formats()) != 4 {
		t.Errorf("Replace(nil) changed the set: %v", r.Formats())
	}

	r.Replace([]string{"webp", "", "AVIF"})
	if want := []string{"AVIF", "WEBP"}; !reflect.DeepEqual(r.Formats(), want) {
		t.Errorf("Formats() = %v, want %v", r.Formats(), want)
	}
}
