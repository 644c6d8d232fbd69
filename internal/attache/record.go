package attache

import (
	"sync/atomic"
	"time"
)

// Dimensions of an image in pixels.
type Dimensions struct {
	Height int `json:"h"`
	Width  int `json:"w"`
}

// StyleResult is the metadata stored on a record for one style of one
// attachment property.
type StyleResult struct {
	Size         int64      `json:"size"`
	OriginalName string     `json:"oname"`
	ModifiedTime time.Time  `json:"mtime"`
	CreatedTime  time.Time  `json:"ctime"`
	StoragePath  string     `json:"path"`
	DefaultURL   string     `json:"defaultUrl,omitempty"`
	MIME         string     `json:"mime,omitempty"`
	Format       string     `json:"format,omitempty"`
	ColorDepth   int        `json:"depth,omitempty"`
	Dimensions   Dimensions `json:"dims"`
}

// Record is a stored document carrying attachment metadata.
// Attachments maps property name to style name to result; a nil result means
// the style was reset.
//
// A Record is mutated in memory by Schema.Attach only; persisting it is the
// caller's responsibility.
type Record struct {
	ID          string
	Model       string
	Fields      map[string]string
	Attachments map[string]map[string]*StyleResult
	CreatedAt   time.Time
	UpdatedAt   time.Time

	attaching atomic.Bool
}

// NewRecord creates an empty record.
func NewRecord(id, model string) *Record {
	return &Record{
		ID:          id,
		Model:       model,
		Fields:      make(map[string]string),
		Attachments: make(map[string]map[string]*StyleResult),
	}
}

// Style returns the result for property/style, or nil if unset or reset.
func (r *Record) Style(property, style string) *StyleResult {
	styles, ok := r.Attachments[property]
	if !ok {
		return nil
	}
	return styles[style]
}

func (r *Record) setStyle(property, style string, res *StyleResult) {
	if r.Attachments == nil {
		r.Attachments = make(map[string]map[string]*StyleResult)
	}
	styles, ok := r.Attachments[property]
	if !ok {
		styles = make(map[string]*StyleResult)
		r.Attachments[property] = styles
	}
	styles[style] = res
}

// RecordStore persists records and the attachment field sets registered for
// each model.
type RecordStore interface {
	// CreateRecord creates and stores a new record with the given fields.
	CreateRecord(model string, fields map[string]string) (*Record, error)

	// FindRecord returns the record with id, or nil if none exists.
	FindRecord(id string) (*Record, error)

	// SaveRecord persists the record's fields and attachments.
	// Attachments for property/style pairs not registered for the record's
	// model are rejected.
	SaveRecord(rec *Record) error

	// RegisterFields replaces the attachment field set registered for model.
	RegisterFields(model string, groups []FieldGroup) error

	// RegisteredFields returns the field set registered for model.
	RegisteredFields(model string) ([]FieldGroup, error)

	// Close releases the store.
	Close() error
}
