// Package token issues and resolves single-use-until-expiry download
// tokens. The registry is storage-agnostic: it never checks that the
// referenced file still exists, that is the file host's job.
package token

import (
	"context"
	"errors"

	"pdfsplitbot/internal/models"
)

// ErrNotFound is returned when a token is absent or past its expiry.
var ErrNotFound = errors.New("token not found")

// Registry maps opaque token strings to served files. Implementations
// must be safe for concurrent issue/resolve across sessions and the
// file host.
type Registry interface {
	// Issue mints a globally unique token for the file, visible to
	// Resolve immediately. Issuing twice for the same file yields two
	// independent tokens.
	Issue(ctx context.Context, filePath, fileName string) (string, error)
	// Resolve returns the entry for a live token, or ErrNotFound.
	Resolve(ctx context.Context, tok string) (models.DownloadToken, error)
}
