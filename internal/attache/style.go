package attache

import "strings"

// Arg is one transformation argument passed to the engine as "-Name Values...".
type Arg struct {
	Name     string
	Values   []string
	Sequence bool // Values came from a list; emitted after a single flag
}

// StyleSpec is the transformation recipe for one style.
type StyleSpec struct {
	// Args are passed to the engine in order. No args means the style keeps
	// the source unchanged.
	Args []Arg

	// Format overrides the output format (e.g. "jpg"). It becomes the
	// extension of the style's files as given. Empty keeps the source
	// extension.
	Format string
}

// Passthrough reports whether the style keeps the source unchanged.
func (s StyleSpec) Passthrough() bool {
	return len(s.Args) == 0
}

// flags renders the transformation arguments. Scalars are emitted as a flag
// and one value; sequences as one flag followed by every value.
func (s StyleSpec) flags() []string {
	var out []string
	for _, a := range s.Args {
		out = append(out, "-"+strings.TrimPrefix(a.Name, "-"))
		if a.Sequence {
			out = append(out, a.Values...)
			continue
		}
		if len(a.Values) > 0 {
			out = append(out, a.Values[0])
		}
	}
	return out
}

// PropertyOptions declares one attachment property.
type PropertyOptions struct {
	UploadDirectory string
	Styles          map[string]StyleSpec
}

// StorageOptions selects the storage provider for a schema.
type StorageOptions struct {
	Provider string
	Options  ProviderOptions
}

// Options configures a schema.
type Options struct {
	Model      string // record model the schema augments
	Directory  string // root prefix for computed storage paths
	Properties map[string]PropertyOptions
	Storage    StorageOptions

	// IDAsDirectory joins the record identifier and the style file name with
	// "/" instead of "-".
	IDAsDirectory bool

	// FilenameID names a record field to use instead of the record ID when
	// computing storage paths.
	FilenameID string
}

// Env holds the shared state and collaborators a schema is built against.
// It is owned by the application and passed explicitly to Compile.
type Env struct {
	Formats   *FormatRegistry
	Providers *ProviderRegistry
	Engine    Engine
	FS        FilesystemManager
	Logger    Logger
}

// Property is a compiled attachment property.
type Property struct {
	Name            string
	UploadDirectory string
	Styles          map[string]StyleSpec
}
