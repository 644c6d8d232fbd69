package attache

import "errors"

// Configuration errors. These are returned by Compile and by the registries
// and are never retried.
var (
	ErrConfig              = errors.New("invalid attachment configuration")
	ErrNoStyles            = errors.New("attachment property has no styles")
	ErrInvalidProviderName = errors.New("storage provider name must be a non-empty string")
	ErrProviderNotFound    = errors.New("storage provider not found")
)

// Validation errors returned by Schema.Attach before any I/O on the source.
var (
	ErrUnknownProperty   = errors.New("unknown attachment property")
	ErrInvalidAttachment = errors.New("invalid attachment info")
	ErrSourceNotFound    = errors.New("source file does not exist")
	ErrSourceNotFile     = errors.New("source path is not a regular file")
	ErrAttachInProgress  = errors.New("another attach is in progress for this record")
)

// Capability query errors returned by FormatRegistry.Refresh and Query.
var (
	ErrNoCapabilityFlags = errors.New("at least one of read, write, multi or blob must be requested")
	ErrNoFormats         = errors.New("capability query returned no formats")
)
