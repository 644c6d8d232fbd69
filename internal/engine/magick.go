package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"

	"attache/internal/attache"
)

// ErrUnavailable is returned when the ImageMagick binaries cannot be run.
var ErrUnavailable = errors.New("image engine unavailable")

// identifyFormat prints format, depth, width and height of one frame.
const identifyFormat = "%m %z %w %h\n"

// Magick drives the ImageMagick command line tools.
type Magick struct {
	identifyPath string
	convertPath  string
}

// NewMagick creates an engine using the given binaries. Empty paths default
// to "identify" and "convert" on $PATH.
func NewMagick(identifyPath, convertPath string) *Magick {
	if identifyPath == "" {
		identifyPath = "identify"
	}
	if convertPath == "" {
		convertPath = "convert"
	}
	return &Magick{identifyPath: identifyPath, convertPath: convertPath}
}

// Identify reports the format and geometry of the first frame of path.
// path is a plain file name; the frame selector is always added here.
// A file ImageMagick cannot decode yields (nil, nil).
func (m *Magick) Identify(ctx context.Context, path string) (*attache.Identity, error) {
	out, err := m.run(ctx, m.identifyPath, "-format", identifyFormat, path+"[0]")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil
		}
		return nil, err
	}

	id, err := parseIdentify(out)
	if err != nil {
		return nil, fmt.Errorf("parsing identify output for %s: %w", path, err)
	}
	return id, nil
}

// Transform runs convert with args.
func (m *Magick) Transform(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("convert needs a source and a destination, got %d args", len(args))
	}
	if _, err := m.run(ctx, m.convertPath, args...); err != nil {
		return err
	}
	return nil
}

// ListFormats runs "convert -list format" and parses its table.
func (m *Magick) ListFormats(ctx context.Context) ([]attache.FormatCapability, error) {
	out, err := m.run(ctx, m.convertPath, "-list", "format")
	if err != nil {
		return nil, err
	}
	return parseFormatList(bytes.NewReader(out))
}

// run executes bin and returns stdout. Stderr is folded into the error.
func (m *Magick) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("running %s: %w", bin, ctxErr)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, bin, execErr.Err)
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, bin, pathErr.Err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.String()
			}
			return nil, fmt.Errorf("%s failed: %s: %w", bin, msg, err)
		}
		return nil, fmt.Errorf("running %s: %w", bin, err)
	}
	return stdout.Bytes(), nil
}

// parseIdentify parses the first line of identify output produced with
// identifyFormat.
func parseIdentify(out []byte) (*attache.Identity, error) {
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if line == "" {
		return nil, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return nil, fmt.Errorf("unexpected identify output %q", line)
	}

	nums := make([]int, 3)
	for i, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("unexpected identify output %q: %w", line, err)
		}
		nums[i] = n
	}
	return &attache.Identity{
		Format: fields[0],
		Depth:  nums[0],
		Width:  nums[1],
		Height: nums[2],
	}, nil
}

// parseFormatList parses the table printed by "convert -list format":
//
//	   Format  Module    Mode  Description
//	-------------------------------------------
//	      GIF* GIF       rw+   CompuServe graphics interchange format
//
// A trailing "*" on the name marks native blob support; the mode column holds
// r (read), w (write) and + (multiple frames), with "-" for absent ones.
func parseFormatList(r io.Reader) ([]attache.FormatCapability, error) {
	var caps []attache.FormatCapability
	inTable := false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "---") {
			inTable = true
			continue
		}
		if !inTable || trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			// Continuation lines and footnotes.
			continue
		}

		name := fields[0]
		mode := fields[2]
		if len(mode) != 3 || strings.Trim(mode, "rw+-") != "" {
			continue
		}

		blob := strings.HasSuffix(name, "*")
		caps = append(caps, attache.FormatCapability{
			Name:  strings.TrimSuffix(name, "*"),
			Read:  mode[0] == 'r',
			Write: mode[1] == 'w',
			Multi: mode[2] == '+',
			Blob:  blob,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading format list: %w", err)
	}
	return caps, nil
}

var (
	_ attache.Engine            = (*Magick)(nil)
	_ attache.CapabilityQuerier = (*Magick)(nil)
)
