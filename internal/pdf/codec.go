// Package pdf wraps the document codec used for page counting and
// contiguous page-range extraction.
package pdf

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRange marks a caller-supplied range that falls outside the
// document. It is a user-input error: callers re-prompt, they do not
// treat it as fatal.
var ErrInvalidRange = errors.New("invalid page range")

// PageError identifies the page that made an extraction fail. No
// partial output is produced in that case.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// ProgressFunc receives extraction progress as pages processed out of
// the total. Implementations must not block the extraction; failures
// on the reporting side are theirs to swallow.
type ProgressFunc func(done, total int)

// Codec is the document contract: open-and-count plus page-range
// extraction into a fresh file.
type Codec interface {
	// PageCount opens the document and returns its page count.
	PageCount(path string) (int, error)
	// Extract writes pages [start, end] (1-based, inclusive) of src to
	// a new PDF and returns its path. The output basename follows
	// {src_base}_pages_{start}_to_{end}.pdf. Cancellation is honored
	// between chunks.
	Extract(ctx context.Context, src string, start, end int, progress ProgressFunc) (string, error)
}
