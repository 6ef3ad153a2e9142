package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

// PDFCPU implements Codec with the pdfcpu toolkit.
type PDFCPU struct {
	conf   *model.Configuration
	logger *logrus.Logger
}

// NewPDFCPU builds the codec with relaxed validation, which tolerates
// the slightly malformed files real users upload.
func NewPDFCPU(logger *logrus.Logger) *PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if logger == nil {
		logger = logrus.New()
	}
	return &PDFCPU{conf: conf, logger: logger}
}

// PageCount opens the document and returns its page count.
func (c *PDFCPU) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("count pages of %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// Extract copies pages [start, end] of src into a fresh PDF under a
// temporary directory. The range is processed in chunks of
// max(1, total/10) pages so progress is reported at most about ten
// times; a failing chunk is probed page by page and the extraction
// aborts with a PageError naming the first bad page.
func (c *PDFCPU) Extract(ctx context.Context, src string, start, end int, progress ProgressFunc) (string, error) {
	total, err := c.PageCount(src)
	if err != nil {
		return "", err
	}
	if start < 1 || end > total || start > end {
		return "", fmt.Errorf("%w: %d-%d of %d pages", ErrInvalidRange, start, end, total)
	}

	workDir, err := os.MkdirTemp("", "pdfsplit_*")
	if err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	out, err := c.extractInto(ctx, workDir, src, start, end, progress)
	if err != nil {
		os.RemoveAll(workDir)
		return "", err
	}
	return out, nil
}

func (c *PDFCPU) extractInto(ctx context.Context, workDir, src string, start, end int, progress ProgressFunc) (string, error) {
	rangeTotal := end - start + 1
	interval := rangeTotal / 10
	if interval < 1 {
		interval = 1
	}

	var parts []string
	done := 0
	for a := start; a <= end; a += interval {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b := a + interval - 1
		if b > end {
			b = end
		}
		part := filepath.Join(workDir, fmt.Sprintf("part_%06d.pdf", len(parts)))
		if err := api.TrimFile(src, part, []string{fmt.Sprintf("%d-%d", a, b)}, c.conf); err != nil {
			return "", c.locateBadPage(src, a, b, err)
		}
		parts = append(parts, part)
		done += b - a + 1
		if progress != nil {
			progress(done, rangeTotal)
		}
	}

	outName := OutputName(src, start, end)
	out := filepath.Join(workDir, outName)
	if len(parts) == 1 {
		if err := os.Rename(parts[0], out); err != nil {
			return "", fmt.Errorf("finalize output: %w", err)
		}
		return out, nil
	}
	if err := api.MergeCreateFile(parts, out, false, c.conf); err != nil {
		return "", fmt.Errorf("merge extracted pages: %w", err)
	}
	for _, part := range parts {
		_ = os.Remove(part)
	}
	return out, nil
}

// locateBadPage narrows a failed chunk down to its first failing page.
func (c *PDFCPU) locateBadPage(src string, a, b int, chunkErr error) error {
	probeDir, err := os.MkdirTemp("", "pdfprobe_*")
	if err != nil {
		return &PageError{Page: a, Err: chunkErr}
	}
	defer os.RemoveAll(probeDir)

	for p := a; p <= b; p++ {
		probe := filepath.Join(probeDir, "probe.pdf")
		if err := api.TrimFile(src, probe, []string{fmt.Sprintf("%d", p)}, c.conf); err != nil {
			c.logger.WithError(err).WithField("page", p).Error("page extraction failed")
			return &PageError{Page: p, Err: err}
		}
	}
	// Pages pass individually but the chunk failed; report its start.
	return &PageError{Page: a, Err: chunkErr}
}

// OutputName derives the user-visible output filename.
func OutputName(src string, start, end int) string {
	base := filepath.Base(src)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_pages_%d_to_%d.pdf", base, start, end)
}
