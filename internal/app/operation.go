package app

import (
	"strings"
	"time"
)

// Operation tracks one CLI invocation. Its ID tags every log line written
// while it runs.
type Operation struct {
	ID        string
	Name      string
	Params    []string
	Status    string // "success" or "error"
	StartedAt time.Time
}

// NewOperation creates an operation started at now. The ID is the start
// time in UTC, e.g. "20240115T103000Z".
func NewOperation(name string, now time.Time, params ...string) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Name:      name,
		Params:    params,
		Status:    "success",
		StartedAt: now,
	}
}

// Fail marks the operation as failed. It returns err so callers can write
// `return op.Fail(err)`; a nil err leaves the status alone.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Failed reports whether any step of the operation failed.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}

// Describe renders the operation name and parameters for logging.
func (op *Operation) Describe() string {
	if len(op.Params) == 0 {
		return op.Name
	}
	return op.Name + " " + strings.Join(op.Params, " ")
}
