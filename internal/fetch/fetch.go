// Package fetch retrieves remote PDFs: a metadata-only probe that
// validates the target before any bytes move, then a chunked streaming
// download with coarse progress reporting.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pdfsplitbot/internal/models"
)

const (
	// DefaultFileName is used when nothing usable can be derived.
	DefaultFileName = "document.pdf"

	chunkSize        = 1 << 20 // 1 MiB
	probeTimeout     = 10 * time.Second
	progressFraction = 0.05
	progressMaxGap   = 10 * time.Second
)

var (
	ErrBadScheme = errors.New("url must start with http:// or https://")
	ErrNotPDF    = errors.New("url does not point to a PDF file")
	ErrTooLarge  = errors.New("remote file exceeds the download limit")
)

// StatusError reports a non-200 probe response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.Code)
}

// ProgressFunc receives downloaded and total byte counts. Total is -1
// when the server did not advertise a length.
type ProgressFunc func(downloaded, total int64)

// Fetcher validates and downloads remote documents.
type Fetcher struct {
	probeClient *http.Client
	bodyClient  *http.Client
	maxSize     int64
	logger      *logrus.Logger
}

// NewFetcher builds a fetcher with the hard size ceiling. The probe
// uses a short timeout; the body stream relies on context cancellation
// instead of a wall-clock cap.
func NewFetcher(maxSize int64, logger *logrus.Logger) *Fetcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Fetcher{
		probeClient: &http.Client{Timeout: probeTimeout},
		bodyClient:  &http.Client{},
		maxSize:     maxSize,
		logger:      logger,
	}
}

// Probe validates rawURL without transferring the body: scheme, HEAD
// status, PDF-ish content type, and advertised size. On success it
// returns the derived filename and size (-1 when unknown).
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (models.RemoteFile, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return models.RemoteFile{}, ErrBadScheme
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := f.probeClient.Do(req)
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("probe url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.RemoteFile{}, &StatusError{Code: resp.StatusCode}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	pdfPath := strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf")
	if contentType != "" && !strings.Contains(contentType, "pdf") && !pdfPath {
		return models.RemoteFile{}, ErrNotPDF
	}

	size := resp.ContentLength
	if size > 0 && size > f.maxSize {
		return models.RemoteFile{}, ErrTooLarge
	}
	if size <= 0 {
		size = -1
	}

	return models.RemoteFile{
		URL:      rawURL,
		FileName: FileName(rawURL, resp.Header.Get("Content-Disposition")),
		Size:     size,
	}, nil
}

// Download streams the body into dest in 1 MiB chunks, reporting
// progress when the downloaded fraction advances at least five
// percentage points or ten seconds have passed since the last report.
// Reporting never blocks or aborts the transfer; any failure removes
// the partial file.
func (f *Fetcher) Download(ctx context.Context, remote models.RemoteFile, dest string, progress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := f.bodyClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("start download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{Code: resp.StatusCode}
	}

	total := resp.ContentLength
	if total <= 0 {
		total = remote.Size
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	written, err := f.copyChunks(ctx, out, resp.Body, total, progress)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close %s: %w", dest, cerr)
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return written, nil
}

func (f *Fetcher) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)
	var downloaded int64
	var lastReported int64
	lastTime := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return downloaded, fmt.Errorf("write chunk: %w", werr)
			}
			downloaded += int64(n)
			if downloaded > f.maxSize {
				return downloaded, ErrTooLarge
			}
			if progress != nil && f.shouldReport(downloaded, lastReported, total, lastTime) {
				progress(downloaded, total)
				lastReported = downloaded
				lastTime = time.Now()
			}
		}
		if err == io.EOF {
			if progress != nil && downloaded > lastReported {
				progress(downloaded, total)
			}
			return downloaded, nil
		}
		if err != nil {
			return downloaded, fmt.Errorf("read body: %w", err)
		}
	}
}

func (f *Fetcher) shouldReport(downloaded, lastReported, total int64, lastTime time.Time) bool {
	if total > 0 && float64(downloaded-lastReported)/float64(total) >= progressFraction {
		return true
	}
	return time.Since(lastTime) >= progressMaxGap
}

// FileName derives the stored filename: the Content-Disposition
// filename parameter wins, then the URL path basename, then the
// default. A .pdf suffix is forced, case-insensitively.
func FileName(rawURL, contentDisposition string) string {
	name := ""
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			name = params["filename"]
		}
	}
	if name == "" {
		if parsed, err := url.Parse(rawURL); err == nil {
			name = path.Base(parsed.Path)
			if name == "." || name == "/" {
				name = ""
			}
		}
	}
	if name == "" {
		return DefaultFileName
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
