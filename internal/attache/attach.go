package attache

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// AttachmentInfo identifies the source file of an attach call.
type AttachmentInfo struct {
	SourcePath   string
	OriginalName string // defaults to the base name of SourcePath
}

// contribution is the per-style outcome of the transform phase.
type contribution struct {
	style       string
	file        string
	stat        *FileStat
	identity    *Identity
	storagePath string
}

// source is a validated attach source.
type source struct {
	path         string
	originalName string
	stat         *FileStat
	ext          string
	base         string
}

// Attach derives every style of property from info's source file, stores
// them through the schema's provider and writes the results into rec.
//
// Styles without transformation arguments are stored unchanged. Styles with
// arguments are transformed when the source format is processable and reset
// to nil otherwise. Transform and persist work runs concurrently per style;
// the first failure is returned and nothing is merged into rec. Resets of
// skipped styles are applied even when a later phase fails.
//
// rec is only modified in memory. Concurrent calls on the same record return
// ErrAttachInProgress.
func (s *Schema) Attach(ctx context.Context, rec *Record, property string, info *AttachmentInfo) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidAttachment)
	}
	if !rec.attaching.CompareAndSwap(false, true) {
		return fmt.Errorf("record %s: %w", rec.ID, ErrAttachInProgress)
	}
	defer rec.attaching.Store(false)

	prop, ok := s.properties[property]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProperty, property)
	}

	src, err := s.validate(info)
	if err != nil {
		return err
	}
	id, err := s.recordIdentifier(rec)
	if err != nil {
		return err
	}

	log := attachLogger{l: s.logger, record: rec.ID, property: prop.Name}
	log.debug("probing source", "source", src.path)

	identity, err := s.engine.Identify(ctx, src.path)
	if err != nil {
		log.fail("identifying source failed", "source", src.path, "error", err)
		return fmt.Errorf("identifying source %s: %w", src.path, err)
	}
	canTransform := identity != nil && s.formats.IsProcessable(identity.Format)
	if identity == nil {
		log.info("source is not a recognised image", "source", src.path)
	} else if !canTransform {
		log.info("source format is not processable", "source", src.path, "format", identity.Format)
	}

	var passthrough, transform, skip []string
	for _, style := range sortedStyles(prop) {
		spec := prop.Styles[style]
		switch {
		case spec.Passthrough():
			passthrough = append(passthrough, style)
		case !canTransform:
			skip = append(skip, style)
		default:
			transform = append(transform, style)
		}
	}

	err = s.process(ctx, rec, prop, id, src, identity, passthrough, transform, log)

	for _, style := range skip {
		rec.setStyle(prop.Name, style, nil)
		log.info("reset style", "style", style)
	}

	if err != nil {
		log.fail("attach failed", "error", err)
		return err
	}
	log.debug("attach complete", "persisted", len(passthrough)+len(transform), "reset", len(skip))
	return nil
}

// process runs the transform, persist and merge phases.
func (s *Schema) process(ctx context.Context, rec *Record, prop *Property, id string, src *source, identity *Identity, passthrough, transform []string, log attachLogger) error {
	if len(passthrough)+len(transform) == 0 {
		return nil
	}

	var workDir string
	if len(transform) > 0 {
		dir, err := s.fs.MkdirTemp("attache-*")
		if err != nil {
			return fmt.Errorf("creating work directory: %w", err)
		}
		workDir = dir
		defer func() {
			if err := s.fs.RemoveAll(workDir); err != nil {
				log.warn("removing work directory failed", "dir", workDir, "error", err)
			}
		}()
	}

	contribs, err := s.transformPhase(ctx, prop, id, src, identity, passthrough, transform, workDir, log)
	if err != nil {
		return err
	}

	results, err := s.persistPhase(ctx, rec, prop, contribs, log)
	if err != nil {
		return err
	}

	for i, c := range contribs {
		res := &StyleResult{
			Size:         c.stat.Size,
			OriginalName: src.originalName,
			ModifiedTime: c.stat.ModTime,
			CreatedTime:  c.stat.ChangeTime,
			StoragePath:  c.storagePath,
			DefaultURL:   results[i].DefaultURL,
			MIME:         results[i].MIME,
		}
		if c.identity != nil {
			res.Format = c.identity.Format
			res.ColorDepth = c.identity.Depth
			res.Dimensions = Dimensions{Height: c.identity.Height, Width: c.identity.Width}
		}
		rec.setStyle(prop.Name, c.style, res)
	}
	return nil
}

// transformPhase builds one contribution per passthrough and transform style.
// The first failure stops tasks that have not started yet; tasks already
// running are left to finish and their results discarded.
func (s *Schema) transformPhase(ctx context.Context, prop *Property, id string, src *source, identity *Identity, passthrough, transform []string, workDir string, log attachLogger) ([]contribution, error) {
	contribs := make([]contribution, len(passthrough)+len(transform))
	g, gctx := errgroup.WithContext(ctx)

	for i, style := range passthrough {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			log.debug("passthrough style", "style", style)
			contribs[i] = contribution{
				style:       style,
				file:        src.path,
				stat:        src.stat,
				identity:    identity,
				storagePath: s.StoragePath(prop.UploadDirectory, id, style, src.ext),
			}
			return nil
		})
	}

	offset := len(passthrough)
	for j, style := range transform {
		i := offset + j
		spec := prop.Styles[style]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := s.transformStyle(ctx, prop, id, src, style, spec, workDir, log)
			if err != nil {
				return err
			}
			contribs[i] = *c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contribs, nil
}

// transformStyle runs the engine for one style and identifies its output.
func (s *Schema) transformStyle(ctx context.Context, prop *Property, id string, src *source, style string, spec StyleSpec, workDir string, log attachLogger) (*contribution, error) {
	ext := src.ext
	if spec.Format != "" {
		ext = "." + spec.Format
	}
	dest := filepath.Join(workDir, src.base+"-"+style+ext)

	args := TransformArgs(src.path, spec, dest)
	log.debug("transforming style", "style", style, "args", strings.Join(args, " "))

	if err := s.engine.Transform(ctx, args); err != nil {
		return nil, fmt.Errorf("transforming style %q: %w", style, err)
	}

	identity, err := s.engine.Identify(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("identifying style %q output: %w", style, err)
	}
	stat, err := s.fs.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat style %q output: %w", style, err)
	}

	return &contribution{
		style:       style,
		file:        dest,
		stat:        stat,
		identity:    identity,
		storagePath: s.StoragePath(prop.UploadDirectory, id, style, ext),
	}, nil
}

// persistPhase stores every contribution through the provider with the same
// fail-fast behaviour as transformPhase. results[i] belongs to contribs[i].
func (s *Schema) persistPhase(ctx context.Context, rec *Record, prop *Property, contribs []contribution, log attachLogger) ([]*PersistResult, error) {
	results := make([]*PersistResult, len(contribs))
	g, gctx := errgroup.WithContext(ctx)

	for i := range contribs {
		c := &contribs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.provider.CreateOrReplace(ctx, &PersistRequest{
				Filename: c.file,
				Stat:     c.stat,
				Path:     c.storagePath,
				Property: prop.Name,
				Record:   rec,
				Style:    c.style,
				Features: c.identity,
			})
			if err != nil {
				return fmt.Errorf("storing style %q at %s: %w", c.style, c.storagePath, err)
			}
			if res == nil {
				res = &PersistResult{}
			}
			log.debug("stored style", "style", c.style, "path", c.storagePath, "url", res.DefaultURL)
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// validate checks info and the source file.
func (s *Schema) validate(info *AttachmentInfo) (*source, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: missing attachment info", ErrInvalidAttachment)
	}
	if strings.TrimSpace(info.SourcePath) == "" {
		return nil, fmt.Errorf("%w: source path is required", ErrInvalidAttachment)
	}

	exists, err := s.fs.Exists(info.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("checking source %s: %w", info.SourcePath, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, info.SourcePath)
	}

	stat, err := s.fs.Stat(info.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("stat source %s: %w", info.SourcePath, err)
	}
	if !stat.Regular {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFile, info.SourcePath)
	}

	name := info.OriginalName
	if name == "" {
		name = filepath.Base(info.SourcePath)
	}
	ext := filepath.Ext(info.SourcePath)

	return &source{
		path:         info.SourcePath,
		originalName: name,
		stat:         stat,
		ext:          ext,
		base:         strings.TrimSuffix(filepath.Base(info.SourcePath), ext),
	}, nil
}

// TransformArgs builds the engine argument list for one style: the source
// restricted to its first frame, the style's flags, then dest.
func TransformArgs(sourcePath string, spec StyleSpec, dest string) []string {
	args := []string{sourcePath + "[0]"}
	args = append(args, spec.flags()...)
	return append(args, dest)
}

func sortedStyles(p *Property) []string {
	out := make([]string, 0, len(p.Styles))
	for st := range p.Styles {
		out = append(out, st)
	}
	sort.Strings(out)
	return out
}

// attachLogger tags every line with the record and property.
type attachLogger struct {
	l        Logger
	record   string
	property string
}

func (a attachLogger) with(args []any) []any {
	return append([]any{"record", a.record, "property", a.property}, args...)
}

func (a attachLogger) debug(msg string, args ...any) { a.l.Debug(msg, a.with(args)...) }
func (a attachLogger) info(msg string, args ...any)  { a.l.Info(msg, a.with(args)...) }
func (a attachLogger) warn(msg string, args ...any)  { a.l.Warn(msg, a.with(args)...) }
func (a attachLogger) fail(msg string, args ...any) { a.l.Error(msg, a.with(args)...) }
