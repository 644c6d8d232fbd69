package attache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"attache/internal/attache"
	"attache/internal/engine"
	"attache/internal/storage"
	"attache/internal/testutil"
)

// failingProvider fails CreateOrReplace for one style.
type failingProvider struct {
	*storage.MemoryProvider
	style string
	err   error
}

func (p *failingProvider) CreateOrReplace(ctx context.Context, req *attache.PersistRequest) (*attache.PersistResult, error) {
	if req.Style == p.style {
		return nil, p.err
	}
	return p.MemoryProvider.CreateOrReplace(ctx, req)
}

// blockingProvider holds every CreateOrReplace until release is closed.
type blockingProvider struct {
	*storage.MemoryProvider
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProvider) CreateOrReplace(ctx context.Context, req *attache.PersistRequest) (*attache.PersistResult, error) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	return p.MemoryProvider.CreateOrReplace(ctx, req)
}

func TestSchema_Attach_Image(t *testing.T) {
	f := newFixture(t, nil)
	src := testutil.WriteImage(t, t.TempDir(), "photo.png", 200, 200)
	info, err := os.Stat(src)
	if err != nil {
		t.Fatalf("stat source: %v", err)
	}
	rec := attache.NewRecord("r1", "post")

	if err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	orig := rec.Style("image", "original")
	if orig == nil {
		t.Fatal("original not set")
	}
	if orig.Size != info.Size() {
		t.Errorf("original size = %d, want %d", orig.Size, info.Size())
	}
	if orig.OriginalName != "photo.png" {
		t.Errorf("original name = %q", orig.OriginalName)
	}
	if orig.StoragePath != "/attachments/image/r1-original.png" {
		t.Errorf("original path = %q", orig.StoragePath)
	}
	if orig.DefaultURL != "memory://attache/attachments/image/r1-original.png" {
		t.Errorf("original url = %q", orig.DefaultURL)
	}
	if orig.MIME != "image/png" || orig.Format != "PNG" || orig.ColorDepth != 8 {
		t.Errorf("original = %+v", orig)
	}
	if orig.Dimensions != (attache.Dimensions{Height: 200, Width: 200}) {
		t.Errorf("original dims = %+v", orig.Dimensions)
	}
	if !orig.ModifiedTime.Equal(info.ModTime()) {
		t.Errorf("original mtime = %v, want %v", orig.ModifiedTime, info.ModTime())
	}

	thumb := rec.Style("image", "thumb")
	if thumb == nil {
		t.Fatal("thumb not set")
	}
	if thumb.Dimensions.Width > 100 || thumb.Dimensions.Height > 100 {
		t.Errorf("thumb dims = %+v, want within 100x100", thumb.Dimensions)
	}
	if thumb.StoragePath != "/attachments/image/r1-thumb.png" || thumb.OriginalName != "photo.png" {
		t.Errorf("thumb = %+v", thumb)
	}

	stored, ok := f.store.Get("/attachments/image/r1-thumb.png")
	if !ok {
		t.Fatal("thumb not stored")
	}
	if int64(len(stored.Data)) != thumb.Size {
		t.Errorf("stored thumb is %d bytes, result says %d", len(stored.Data), thumb.Size)
	}

	calls := f.engine.TransformCalls()
	if len(calls) != 1 {
		t.Fatalf("Transform called %d times, want 1", len(calls))
	}
	if calls[0][0] != src+"[0]" {
		t.Errorf("Transform source = %q, want first frame of %q", calls[0][0], src)
	}
	if removed := f.fs.Removed(); len(removed) != 1 {
		t.Errorf("scratch directories removed = %v, want 1", removed)
	} else if _, err := os.Stat(removed[0]); !os.IsNotExist(err) {
		t.Errorf("scratch directory %s still exists", removed[0])
	}
}

func TestSchema_Attach_NonImage(t *testing.T) {
	f := newFixture(t, nil)
	src := testutil.WriteFile(t, t.TempDir(), "notes.txt", []byte("just text"))
	rec := attache.NewRecord("r1", "post")

	if err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	orig := rec.Style("image", "original")
	if orig == nil {
		t.Fatal("original not set")
	}
	if orig.Size != int64(len("just text")) || orig.StoragePath != "/attachments/image/r1-original.txt" {
		t.Errorf("original = %+v", orig)
	}
	if orig.Format != "" || orig.Dimensions != (attache.Dimensions{}) {
		t.Errorf("original has image features: %+v", orig)
	}
	if !strings.HasPrefix(orig.MIME, "text/plain") {
		t.Errorf("original MIME = %q", orig.MIME)
	}

	thumb, ok := rec.Attachments["image"]["thumb"]
	if !ok || thumb != nil {
		t.Errorf("thumb = %+v (present %v), want reset to nil", thumb, ok)
	}
	if n := len(f.engine.TransformCalls()); n != 0 {
		t.Errorf("Transform called %d times, want 0", n)
	}
	if n := len(f.fs.Removed()); n != 0 {
		t.Errorf("scratch directory created for passthrough-only attach")
	}
}

func TestSchema_Attach_UnprocessableFormat(t *testing.T) {
	f := newFixture(t, nil)
	f.formats.Replace([]string{"JPEG"})
	src := testutil.WriteImage(t, t.TempDir(), "photo.png", 40, 40)
	rec := attache.NewRecord("r1", "post")
	rec.Attachments["image"] = map[string]*attache.StyleResult{"thumb": {Size: 1}}

	if err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	orig := rec.Style("image", "original")
	if orig == nil || orig.Format != "PNG" {
		t.Errorf("original = %+v, want stored with identified format", orig)
	}
	if rec.Style("image", "thumb") != nil {
		t.Error("thumb should be reset")
	}
}

func TestSchema_Attach_TransformFailure(t *testing.T) {
	boom := errors.New("convert: no space left on device")
	f := newFixture(t, func(o *attache.Options) {
		o.Properties["image"].Styles["small"] = attache.StyleSpec{Args: []attache.Arg{{Name: "resize", Values: []string{"10x10"}}}}
	})
	f.engine.FailStyle("thumb", boom)

	src := testutil.WriteImage(t, t.TempDir(), "photo.png", 50, 50)
	rec := attache.NewRecord("r1", "post")
	previous := &attache.StyleResult{Size: 99, StoragePath: "/old"}
	rec.Attachments["image"] = map[string]*attache.StyleResult{"original": previous}

	err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
	if !errors.Is(err, boom) {
		t.Fatalf("Attach() error = %v, want %v", err, boom)
	}

	if rec.Style("image", "original") != previous {
		t.Error("original was modified despite the failure")
	}
	if rec.Style("image", "thumb") != nil || rec.Style("image", "small") != nil {
		t.Error("derived styles were merged despite the failure")
	}
	if paths := f.store.Paths(); len(paths) != 0 {
		t.Errorf("stored %v, want nothing persisted after a transform failure", paths)
	}
	if len(f.fs.Removed()) != 1 {
		t.Error("scratch directory not removed after failure")
	}
}

func TestSchema_Attach_PersistFailure(t *testing.T) {
	boom := errors.New("storage: quota exceeded")
	f := newFixture(t, nil)
	prov := &failingProvider{MemoryProvider: storage.NewMemoryProvider(""), style: "thumb", err: boom}
	schema := f.compile(t, baseOptions(), prov)

	src := testutil.WriteImage(t, t.TempDir(), "photo.png", 50, 50)
	rec := attache.NewRecord("r1", "post")

	err := schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
	if !errors.Is(err, boom) {
		t.Fatalf("Attach() error = %v, want %v", err, boom)
	}
	if len(rec.Attachments) != 0 {
		t.Errorf("Attachments = %v, want nothing merged", rec.Attachments)
	}
}

func TestSchema_Attach_ResetsAppliedOnFailure(t *testing.T) {
	boom := errors.New("storage: offline")
	f := newFixture(t, nil)
	prov := &failingProvider{MemoryProvider: storage.NewMemoryProvider(""), style: "original", err: boom}
	schema := f.compile(t, baseOptions(), prov)

	src := testutil.WriteFile(t, t.TempDir(), "doc.pdf", []byte("%PDF-1.4 not really"))
	rec := attache.NewRecord("r1", "post")
	rec.Attachments["image"] = map[string]*attache.StyleResult{"thumb": {Size: 5}}

	err := schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
	if !errors.Is(err, boom) {
		t.Fatalf("Attach() error = %v, want %v", err, boom)
	}
	if thumb, ok := rec.Attachments["image"]["thumb"]; !ok || thumb != nil {
		t.Errorf("thumb = %+v, want reset even though persisting failed", thumb)
	}
	if rec.Style("image", "original") != nil {
		t.Error("original merged despite failure")
	}
}

func TestSchema_Attach_WorkDirFailure(t *testing.T) {
	injected := errors.New("read-only file system")
	f := newFixture(t, nil)
	f.fs.FailMkdirTemp(injected)
	src := testutil.WriteImage(t, t.TempDir(), "photo.png", 10, 10)
	rec := attache.NewRecord("r1", "post")

	err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
	if !errors.Is(err, injected) {
		t.Fatalf("Attach() error = %v, want %v", err, injected)
	}
	if len(f.store.Paths()) != 0 {
		t.Errorf("stored %v, want nothing", f.store.Paths())
	}
}

func TestSchema_Attach_EngineUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.SetUnavailable()
	src := testutil.WriteImage(t, t.TempDir(), "photo.png", 10, 10)
	rec := attache.NewRecord("r1", "post")

	err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("Attach() error = %v, want ErrUnavailable", err)
	}
	if len(rec.Attachments) != 0 {
		t.Errorf("Attachments = %v, want untouched", rec.Attachments)
	}
}

func TestSchema_Attach_Validation(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteImage(t, dir, "photo.png", 10, 10)
	statFail := testutil.WriteImage(t, dir, "stat.png", 10, 10)
	existsFail := testutil.WriteImage(t, dir, "exists.png", 10, 10)
	injected := errors.New("permission denied")

	tests := []struct {
		name     string
		rec      *attache.Record
		property string
		info     *attache.AttachmentInfo
		wantErr  error
	}{
		{name: "nil record", property: "image", info: &attache.AttachmentInfo{SourcePath: src}, wantErr: attache.ErrInvalidAttachment},
		{name: "unknown property", property: "avatar", info: &attache.AttachmentInfo{SourcePath: src}, wantErr: attache.ErrUnknownProperty},
		{name: "nil info", property: "image", wantErr: attache.ErrInvalidAttachment},
		{name: "empty path", property: "image", info: &attache.AttachmentInfo{}, wantErr: attache.ErrInvalidAttachment},
		{name: "missing source", property: "image", info: &attache.AttachmentInfo{SourcePath: filepath.Join(dir, "nope.png")}, wantErr: attache.ErrSourceNotFound},
		{name: "directory source", property: "image", info: &attache.AttachmentInfo{SourcePath: dir}, wantErr: attache.ErrSourceNotFile},
		{name: "exists check fails", property: "image", info: &attache.AttachmentInfo{SourcePath: existsFail}, wantErr: injected},
		{name: "stat fails", property: "image", info: &attache.AttachmentInfo{SourcePath: statFail}, wantErr: injected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.fs.FailExists(existsFail, injected)
			f.fs.FailStat(statFail, injected)

			rec := tt.rec
			if rec == nil && tt.name != "nil record" {
				rec = attache.NewRecord("r1", "post")
			}

			err := f.schema.Attach(context.Background(), rec, tt.property, tt.info)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Attach() error = %v, want %v", err, tt.wantErr)
			}
			if rec != nil && len(rec.Attachments) != 0 {
				t.Errorf("Attachments = %v, want untouched", rec.Attachments)
			}
			if n := len(f.engine.TransformCalls()); n != 0 {
				t.Errorf("Transform called %d times after a validation error", n)
			}
		})
	}
}

func TestSchema_Attach_ConcurrentSameRecord(t *testing.T) {
	f := newFixture(t, nil)
	prov := &blockingProvider{
		MemoryProvider: storage.NewMemoryProvider(""),
		entered:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	opts := baseOptions()
	opts.Properties["image"].Styles["thumb"] = attache.StyleSpec{}
	schema := f.compile(t, opts, prov)

	src := testutil.WriteFile(t, t.TempDir(), "a.txt", []byte("a"))
	rec := attache.NewRecord("r1", "post")

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
	}()

	<-prov.entered
	err := schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
	if !errors.Is(err, attache.ErrAttachInProgress) {
		t.Errorf("second Attach() error = %v, want ErrAttachInProgress", err)
	}

	close(prov.release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first Attach() error = %v", firstErr)
	}

	other := attache.NewRecord("r2", "post")
	if err := schema.Attach(context.Background(), other, "image", &attache.AttachmentInfo{SourcePath: src}); err != nil {
		t.Errorf("Attach() on another record error = %v", err)
	}
	if err := schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src}); err != nil {
		t.Errorf("Attach() after the first finished error = %v", err)
	}
}

func TestSchema_Attach_StoragePathOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*attache.Options)
		fields  map[string]string
		want    string
		wantErr error
	}{
		{
			name:   "filename id field",
			mutate: func(o *attache.Options) { o.FilenameID = "slug" },
			fields: map[string]string{"slug": "my-post"},
			want:   "/attachments/image/my-post-thumb.png",
		},
		{
			name:    "filename id field empty",
			mutate:  func(o *attache.Options) { o.FilenameID = "slug" },
			wantErr: attache.ErrInvalidAttachment,
		},
		{
			name:   "id as directory",
			mutate: func(o *attache.Options) { o.IDAsDirectory = true },
			want:   "/attachments/image/r1/thumb.png",
		},
		{
			name: "upload directory",
			mutate: func(o *attache.Options) {
				p := o.Properties["image"]
				p.UploadDirectory = "photos"
				o.Properties["image"] = p
			},
			want: "/attachments/photos/r1-thumb.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			src := testutil.WriteImage(t, t.TempDir(), "photo.png", 30, 30)
			rec := attache.NewRecord("r1", "post")
			for k, v := range tt.fields {
				rec.Fields[k] = v
			}

			err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Attach() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Attach() error = %v", err)
			}
			if got := rec.Style("image", "thumb").StoragePath; got != tt.want {
				t.Errorf("thumb path = %q, want %q", got, tt.want)
			}
			if _, ok := f.store.Get(tt.want); !ok {
				t.Errorf("nothing stored at %q; have %v", tt.want, f.store.Paths())
			}
		})
	}
}

func TestSchema_Attach_FormatOverride(t *testing.T) {
	f := newFixture(t, func(o *attache.Options) {
		o.Properties["image"].Styles["thumb"] = attache.StyleSpec{
			Args:   []attache.Arg{{Name: "resize", Values: []string{"20x20"}}},
			Format: "JPG",
		}
	})
	src := testutil.WriteImage(t, t.TempDir(), "photo.png", 40, 20)
	rec := attache.NewRecord("r1", "post")

	if err := f.schema.Attach(context.Background(), rec, "image", &attache.AttachmentInfo{SourcePath: src, OriginalName: "Summer.PNG"}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	thumb := rec.Style("image", "thumb")
	if thumb.StoragePath != "/attachments/image/r1-thumb.JPG" {
		t.Errorf("thumb path = %q", thumb.StoragePath)
	}
	if thumb.Format != "JPEG" || thumb.MIME != "image/jpeg" {
		t.Errorf("thumb = %+v, want JPEG", thumb)
	}
	if thumb.Dimensions != (attache.Dimensions{Height: 10, Width: 20}) {
		t.Errorf("thumb dims = %+v", thumb.Dimensions)
	}
	if thumb.OriginalName != "Summer.PNG" {
		t.Errorf("thumb name = %q", thumb.OriginalName)
	}

	calls := f.engine.TransformCalls()
	if len(calls) != 1 || !strings.HasSuffix(calls[0][len(calls[0])-1], "photo-thumb.JPG") {
		t.Errorf("Transform calls = %q", calls)
	}
	if rec.Style("image", "original").StoragePath != "/attachments/image/r1-original.png" {
		t.Error("passthrough style should keep the source extension")
	}
}

func TestSchema_Attach_ReplacesPreviousResults(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	rec := attache.NewRecord("r1", "post")
	ctx := context.Background()

	first := testutil.WriteImage(t, dir, "a.png", 300, 300)
	if err := f.schema.Attach(ctx, rec, "image", &attache.AttachmentInfo{SourcePath: first}); err != nil {
		t.Fatalf("first Attach() error = %v", err)
	}
	second := testutil.WriteImage(t, dir, "b.png", 40, 40)
	if err := f.schema.Attach(ctx, rec, "image", &attache.AttachmentInfo{SourcePath: second}); err != nil {
		t.Fatalf("second Attach() error = %v", err)
	}

	orig := rec.Style("image", "original")
	if orig.OriginalName != "b.png" || orig.Dimensions.Width != 40 {
		t.Errorf("original = %+v, want the second source", orig)
	}
	if got := len(f.store.Paths()); got != 2 {
		t.Errorf("stored %d objects, want 2 (same paths overwritten)", got)
	}
}
