package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pdfsplitbot/internal/models"
)

// MaxListed caps how many stored PDFs are surfaced as choices.
const MaxListed = 10

// Library manages the directory of retained source PDFs. Files are
// keyed by their user-visible name; a same-named save overwrites.
type Library struct {
	dir string
}

// NewLibrary creates the storage directory if needed.
func NewLibrary(dir string) (*Library, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Library{dir: dir}, nil
}

// Dir returns the storage directory path.
func (l *Library) Dir() string { return l.dir }

// Path resolves a stored document name to its on-disk path, stripping
// any directory components from the supplied name.
func (l *Library) Path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}

// Save streams r into the library under the sanitized name, replacing
// any existing file of the same name. On write failure the partial
// file is removed.
func (l *Library) Save(name string, r io.Reader) (string, error) {
	dest := l.Path(name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return dest, nil
}

// Remove deletes one stored document. Missing files are not an error.
func (l *Library) Remove(name string) error {
	if err := os.Remove(l.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// List returns up to limit stored PDFs, newest first. limit <= 0 means
// MaxListed.
func (l *Library) List(limit int) ([]models.StoredDocument, error) {
	if limit <= 0 {
		limit = MaxListed
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read storage directory: %w", err)
	}

	var docs []models.StoredDocument
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		docs = append(docs, models.StoredDocument{
			FileName: entry.Name(),
			Path:     filepath.Join(l.dir, entry.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ModTime.After(docs[j].ModTime) })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Clear deletes every stored PDF and reports how many were removed.
func (l *Library) Clear() (int, error) {
	docs, err := l.List(1 << 20)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, doc := range docs {
		if err := os.Remove(doc.Path); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}
