package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ServeDir owns the directory of ephemeral output copies handed to the
// file host. Names are randomized to avoid collisions; a periodic
// sweep bounds disk growth independently of token lifetimes.
type ServeDir struct {
	dir    string
	maxAge time.Duration
	logger *logrus.Logger
}

// NewServeDir creates the serve directory if needed. Files older than
// maxAge are reclaimed by the sweep.
func NewServeDir(dir string, maxAge time.Duration, logger *logrus.Logger) (*ServeDir, error) {
	if dir == "" {
		return nil, fmt.Errorf("serve directory must be provided")
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create serve directory: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ServeDir{dir: dir, maxAge: maxAge, logger: logger}, nil
}

// Place copies src into the serve directory under a randomized name
// derived from the user-visible output name.
func (s *ServeDir) Place(src, outputName string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dest := filepath.Join(s.dir, fmt.Sprintf("%s_%s", uuid.NewString(), filepath.Base(outputName)))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("copy to serve directory: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return dest, nil
}

// PlaceReader is Place for content that only exists as a stream.
func (s *ServeDir) PlaceReader(r io.Reader, outputName string) (string, error) {
	dest := filepath.Join(s.dir, fmt.Sprintf("%s_%s", uuid.NewString(), filepath.Base(outputName)))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("copy to serve directory: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return dest, nil
}

// StartSweeper runs the reclamation loop until ctx is cancelled.
func (s *ServeDir) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go s.sweepLoop(ctx, interval)
}

func (s *ServeDir) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(); err != nil {
				s.logger.WithError(err).Error("serve directory sweep failed")
			} else if n > 0 {
				s.logger.WithField("removed", n).Info("swept expired served files")
			}
		}
	}
}

// Sweep removes files whose mtime is older than the expiration window,
// ignoring files that vanish between listing and deletion. Returns the
// number removed.
func (s *ServeDir) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read serve directory: %w", err)
	}
	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.logger.WithError(err).WithField("file", entry.Name()).Warn("could not remove expired file")
			}
			continue
		}
		removed++
	}
	return removed, nil
}
