package testutil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"attache/internal/attache"
	"attache/internal/engine"
)

// ImageEngine is an in-process stand-in for ImageMagick. Identify decodes the
// file header with the standard library (PNG, JPEG and GIF only). Transform
// honours "-resize WxH" and writes a real image in the format implied by the
// destination extension.
type ImageEngine struct {
	mu          sync.Mutex
	calls       [][]string
	failStyles  map[string]error
	unavailable bool

	// Formats and ListErr are returned by ListFormats.
	Formats []attache.FormatCapability
	ListErr error
}

// NewImageEngine creates an engine that succeeds for every call.
func NewImageEngine() *ImageEngine {
	return &ImageEngine{failStyles: make(map[string]error)}
}

// FailStyle makes Transform fail with err when the destination belongs to style.
func (e *ImageEngine) FailStyle(style string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStyles[style] = err
}

// SetUnavailable makes every call fail as if the tool was not installed.
func (e *ImageEngine) SetUnavailable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable = true
}

// TransformCalls returns the argument lists Transform was called with.
func (e *ImageEngine) TransformCalls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *ImageEngine) Identify(_ context.Context, path string) (*attache.Identity, error) {
	e.mu.Lock()
	unavailable := e.unavailable
	e.mu.Unlock()
	if unavailable {
		return nil, fmt.Errorf("%w: identify", engine.ErrUnavailable)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, nil
	}
	return &attache.Identity{
		Format: strings.ToUpper(format),
		Depth:  8,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

func (e *ImageEngine) Transform(_ context.Context, args []string) error {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), args...))
	unavailable := e.unavailable
	var failErr error
	if len(args) > 0 {
		dest := args[len(args)-1]
		name := strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))
		for style, err := range e.failStyles {
			if strings.HasSuffix(name, "-"+style) {
				failErr = err
			}
		}
	}
	e.mu.Unlock()

	if unavailable {
		return fmt.Errorf("%w: convert", engine.ErrUnavailable)
	}
	if failErr != nil {
		return failErr
	}
	if len(args) < 2 {
		return fmt.Errorf("convert: need source and destination, got %v", args)
	}

	src := strings.TrimSuffix(args[0], "[0]")
	dest := args[len(args)-1]

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("convert: no decode delegate for %s", src)
	}

	w, h := cfg.Width, cfg.Height
	for i := 1; i < len(args)-2; i++ {
		if args[i] == "-resize" {
			w, h = fit(cfg.Width, cfg.Height, args[i+1])
		}
	}
	return writeImage(dest, w, h)
}

func (e *ImageEngine) ListFormats(_ context.Context) ([]attache.FormatCapability, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ListErr != nil {
		return nil, e.ListErr
	}
	return append([]attache.FormatCapability(nil), e.Formats...), nil
}

// fit scales w x h to fit inside a "WxH" geometry, keeping the aspect ratio.
func fit(w, h int, geometry string) (int, int) {
	geometry = strings.TrimRight(geometry, "!<>^%@")
	parts := strings.SplitN(geometry, "x", 2)
	if len(parts) != 2 {
		return w, h
	}
	gw, errW := strconv.Atoi(parts[0])
	gh, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || gw <= 0 || gh <= 0 {
		return w, h
	}
	scale := float64(gw) / float64(w)
	if s := float64(gh) / float64(h); s < scale {
		scale = s
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	return max(nw, 1), max(nh, 1)
}

// writeImage writes a solid w x h image encoded by path's extension.
func writeImage(path string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, nil)
	case ".gif":
		err = gif.Encode(f, img, nil)
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

var (
	_ attache.Engine            = (*ImageEngine)(nil)
	_ attache.CapabilityQuerier = (*ImageEngine)(nil)
)
