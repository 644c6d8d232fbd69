package attache

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// AttributeKind is the stored type of a style attribute.
type AttributeKind string

const (
	KindInt    AttributeKind = "int"
	KindString AttributeKind = "string"
	KindTime   AttributeKind = "time"
)

// Attribute is one stored attribute of a style.
type Attribute struct {
	Name string
	Kind AttributeKind
}

// StyleAttributes lists the attributes stored for every style, keyed as in
// StyleResult's JSON encoding.
var StyleAttributes = []Attribute{
	{Name: "size", Kind: KindInt},
	{Name: "oname", Kind: KindString},
	{Name: "mtime", Kind: KindTime},
	{Name: "ctime", Kind: KindTime},
	{Name: "path", Kind: KindString},
	{Name: "defaultUrl", Kind: KindString},
	{Name: "mime", Kind: KindString},
	{Name: "format", Kind: KindString},
	{Name: "depth", Kind: KindInt},
	{Name: "dims.h", Kind: KindInt},
	{Name: "dims.w", Kind: KindInt},
}

// StyleFields describes the stored fields of one style.
type StyleFields struct {
	Style      string
	Attributes []Attribute
}

// FieldGroup describes the stored fields of one attachment property.
type FieldGroup struct {
	Property string
	Styles   []StyleFields
}

// Schema is a compiled attachment configuration for one record model.
type Schema struct {
	model         string
	directory     string
	idAsDirectory bool
	filenameID    string
	properties    map[string]*Property
	provider      Provider

	formats *FormatRegistry
	engine  Engine
	fs      FilesystemManager
	logger  Logger
}

// Compile validates opts, constructs the storage provider and returns the
// schema. Any error is a configuration error and no schema is returned.
func Compile(ctx context.Context, opts Options, env Env) (*Schema, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrConfig)
	}
	if opts.Directory == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrConfig)
	}
	if len(opts.Properties) == 0 {
		return nil, fmt.Errorf("%w: at least one property is required", ErrConfig)
	}
	if opts.Storage.Provider == "" {
		return nil, fmt.Errorf("%w: storage provider is required", ErrConfig)
	}
	if env.Formats == nil || env.Providers == nil || env.Engine == nil || env.FS == nil {
		return nil, fmt.Errorf("%w: formats, providers, engine and filesystem must be set", ErrConfig)
	}
	logger := env.Logger
	if logger == nil {
		logger = NewNopLogger()
	}

	properties := make(map[string]*Property, len(opts.Properties))
	for name, p := range opts.Properties {
		if len(p.Styles) == 0 {
			return nil, fmt.Errorf("property %q: %w", name, ErrNoStyles)
		}
		uploadDir := p.UploadDirectory
		if uploadDir == "" {
			uploadDir = name
		}
		styles := make(map[string]StyleSpec, len(p.Styles))
		for style, spec := range p.Styles {
			if style == "" {
				return nil, fmt.Errorf("%w: property %q has an unnamed style", ErrConfig, name)
			}
			styles[style] = spec
		}
		properties[name] = &Property{
			Name:            name,
			UploadDirectory: uploadDir,
			Styles:          styles,
		}
	}

	factory, err := env.Providers.Resolve(opts.Storage.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolving storage provider: %w", err)
	}
	provider, err := factory(ctx, opts.Storage.Options)
	if err != nil {
		return nil, fmt.Errorf("creating storage provider %q: %w", opts.Storage.Provider, err)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: storage provider %q factory returned nil", ErrConfig, opts.Storage.Provider)
	}
	if v, ok := provider.(SetupValidator); ok {
		if err := v.ValidateSetup(); err != nil {
			return nil, fmt.Errorf("validating storage provider %q: %w", opts.Storage.Provider, err)
		}
	}

	logger.Debug("compiled attachment schema", "model", opts.Model, "properties", len(properties), "provider", opts.Storage.Provider)

	return &Schema{
		model:         opts.Model,
		directory:     opts.Directory,
		idAsDirectory: opts.IDAsDirectory,
		filenameID:    opts.FilenameID,
		properties:    properties,
		provider:      provider,
		formats:       env.Formats,
		engine:        env.Engine,
		fs:            env.FS,
		logger:        logger,
	}, nil
}

// Model returns the record model this schema augments.
func (s *Schema) Model() string { return s.model }

// Provider returns the schema's storage provider.
func (s *Schema) Provider() Provider { return s.provider }

// Property returns the compiled property name.
func (s *Schema) Property(name string) (*Property, bool) {
	p, ok := s.properties[name]
	return p, ok
}

// Fields describes the stored attachment fields, one group per property and
// one entry per style, sorted by name. Record stores register this once.
func (s *Schema) Fields() []FieldGroup {
	names := make([]string, 0, len(s.properties))
	for n := range s.properties {
		names = append(names, n)
	}
	sort.Strings(names)

	groups := make([]FieldGroup, 0, len(names))
	for _, n := range names {
		p := s.properties[n]
		styles := make([]string, 0, len(p.Styles))
		for st := range p.Styles {
			styles = append(styles, st)
		}
		sort.Strings(styles)

		g := FieldGroup{Property: n}
		for _, st := range styles {
			attrs := make([]Attribute, len(StyleAttributes))
			copy(attrs, StyleAttributes)
			g.Styles = append(g.Styles, StyleFields{Style: st, Attributes: attrs})
		}
		groups = append(groups, g)
	}
	return groups
}

// StoragePath computes the logical storage path of a style file:
//
//	/<directory>/<uploadDirectory>/<id><sep><style><ext>
//
// where sep is "/" when IDAsDirectory is set and "-" otherwise.
func (s *Schema) StoragePath(uploadDirectory, id, style, ext string) string {
	sep := "-"
	if s.idAsDirectory {
		sep = "/"
	}
	return path.Join("/", s.directory, uploadDirectory, id+sep+style+ext)
}

// recordIdentifier returns the identifier used in storage paths for rec.
func (s *Schema) recordIdentifier(rec *Record) (string, error) {
	if s.filenameID == "" {
		if rec.ID == "" {
			return "", fmt.Errorf("%w: record has no id", ErrInvalidAttachment)
		}
		return rec.ID, nil
	}
	id := strings.TrimSpace(rec.Fields[s.filenameID])
	if id == "" {
		return "", fmt.Errorf("%w: record field %q is empty", ErrInvalidAttachment, s.filenameID)
	}
	return id, nil
}
