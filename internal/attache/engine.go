package attache

import "context"

// Identity is what the transformation engine reports about an image file.
type Identity struct {
	Format string // engine format name, e.g. "PNG"
	Depth  int    // bits per channel
	Width  int
	Height int
}

// Engine is the external image transformation tool.
type Engine interface {
	// Identify inspects the file at path. It returns (nil, nil) when the tool
	// ran but did not recognise the file as an image, and an error only when
	// the tool itself could not be invoked or failed unexpectedly.
	Identify(ctx context.Context, path string) (*Identity, error)

	// Transform runs the tool with args. By convention args[0] is the source
	// (optionally annotated with a frame selector), followed by flag/value
	// groups, and the last element is the destination path.
	Transform(ctx context.Context, args []string) error
}

// FormatCapability describes one format reported by a capability query.
type FormatCapability struct {
	Name  string
	Read  bool
	Write bool
	Multi bool // supports multiple frames/pages
	Blob  bool // native blob support
}

// CapabilityQuerier lists the formats an engine supports.
type CapabilityQuerier interface {
	ListFormats(ctx context.Context) ([]FormatCapability, error)
}
