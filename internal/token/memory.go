package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pdfsplitbot/internal/models"
)

// MemoryRegistry keeps tokens in a mutex-guarded map. Each entry
// schedules its own deferred removal; Resolve additionally drops
// entries found expired, so a lost timer only delays reclamation.
// The serve-directory sweep is the durable fallback for the files
// themselves.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]models.DownloadToken
	ttl     time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewMemoryRegistry creates a registry whose tokens live for ttl.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryRegistry{
		entries: make(map[string]models.DownloadToken),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue mints a UUID token and stores the mapping.
func (r *MemoryRegistry) Issue(_ context.Context, filePath, fileName string) (string, error) {
	tok := uuid.NewString()
	entry := models.DownloadToken{
		Token:      tok,
		FilePath:   filePath,
		FileName:   fileName,
		ExpireTime: r.now().Add(r.ttl),
	}

	r.mu.Lock()
	r.entries[tok] = entry
	r.mu.Unlock()

	time.AfterFunc(r.ttl, func() { r.remove(tok) })
	return tok, nil
}

// Resolve returns the entry for a live token, deleting it lazily if
// found expired.
func (r *MemoryRegistry) Resolve(_ context.Context, tok string) (models.DownloadToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[tok]
	if !ok {
		return models.DownloadToken{}, ErrNotFound
	}
	if entry.Expired(r.now()) {
		delete(r.entries, tok)
		return models.DownloadToken{}, ErrNotFound
	}
	return entry, nil
}

func (r *MemoryRegistry) remove(tok string) {
	r.mu.Lock()
	delete(r.entries, tok)
	r.mu.Unlock()
}
