package bot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"pdfsplitbot/internal/channel"
	"pdfsplitbot/internal/models"
	"pdfsplitbot/internal/pdf"
)

// processRange parses and validates the requested range, runs the
// extraction, and hands the result to the distribution decider.
// Parse and bounds failures re-prompt and keep the session in the
// page-range state.
func (e *Engine) processRange(ctx context.Context, sess *models.Session, text string) {
	statusID := e.send(ctx, sess, "Validating your request...", nil)

	var start, end int
	if strings.EqualFold(text, "yes") && sess.HasPending() {
		start, end = sess.PendingStart, sess.PendingEnd
		sess.ClearPending()
	} else {
		var err error
		start, end, err = parseRange(text, sess.PageCount)
		if err != nil {
			if errors.Is(err, ErrRangeBounds) {
				e.edit(ctx, sess, statusID, fmt.Sprintf(
					"Invalid page range! The document has %d pages. "+
						"Please specify a valid page or range between 1 and %d.",
					sess.PageCount, sess.PageCount), nil)
				return
			}
			e.edit(ctx, sess, statusID,
				"Invalid format! Please enter either a single page number (e.g., 157) "+
					"or a range in the format: start-end (e.g., 1-5)", nil)
			return
		}
		if end-start+1 > largeRangePages {
			sess.PendingStart, sess.PendingEnd = start, end
			e.edit(ctx, sess, statusID, fmt.Sprintf(
				"That range covers %d pages and may take a while. Reply \"yes\" to continue, "+
					"or send a smaller range.", end-start+1), nil)
			return
		}
		// A substitute range supersedes any parked one.
		sess.ClearPending()
	}

	e.edit(ctx, sess, statusID, "Creating your new PDF... This may take a moment.", nil)

	out, err := e.codec.Extract(ctx, sess.DocumentPath, start, end, func(done, total int) {
		if err := e.ch.EditText(ctx, sess.ChatID, statusID, fmt.Sprintf(
			"Processing pages: %.1f%% complete (%d/%d pages)",
			float64(done)/float64(total)*100, done, total), nil); err != nil {
			e.logger.WithError(err).Warn("could not update extraction progress")
		}
	})
	if err != nil {
		var pageErr *pdf.PageError
		switch {
		case errors.As(err, &pageErr):
			e.edit(ctx, sess, statusID, fmt.Sprintf(
				"Error processing page %d. Please try a different range.", pageErr.Page), nil)
		case errors.Is(err, pdf.ErrInvalidRange):
			e.edit(ctx, sess, statusID, fmt.Sprintf(
				"Invalid page range! The document has %d pages.", sess.PageCount), nil)
		case errors.Is(err, context.Canceled):
			// The queued cancel event will notify the user.
		default:
			e.logger.WithError(err).Error("extraction failed")
			e.edit(ctx, sess, statusID,
				"Sorry, an error occurred while processing your PDF.\n"+
					"Please try again with a different file or page range.", nil)
		}
		return
	}
	defer os.RemoveAll(filepath.Dir(out))

	if e.deliver(ctx, sess, statusID, out, start, end) {
		e.sendNextActions(ctx, sess)
	}
}

// deliver is the distribution decider: inline for small outputs, a
// tokenized download link otherwise. Returns false when the delivery
// attempt failed in a way that already moved the conversation on.
func (e *Engine) deliver(ctx context.Context, sess *models.Session, statusID int64, out string, start, end int) bool {
	info, err := os.Stat(out)
	if err != nil {
		e.logger.WithError(err).Error("stat extraction output failed")
		e.edit(ctx, sess, statusID, "Sorry, an error occurred while preparing your PDF. Please try again.", nil)
		return false
	}
	outputName := pdf.OutputName(sess.DocumentPath, start, end)

	if info.Size() <= e.inlineLimit {
		e.edit(ctx, sess, statusID, "Sending your new PDF...", nil)
		f, err := os.Open(out)
		if err != nil {
			e.logger.WithError(err).Error("open extraction output failed")
			e.edit(ctx, sess, statusID, "Sorry, an error occurred while sending your PDF. Please try again.", nil)
			return false
		}
		defer f.Close()
		err = e.ch.SendDocument(ctx, sess.ChatID, channel.Document{
			Name:    outputName,
			Caption: fmt.Sprintf("Here's your new PDF with pages %d to %d.", start, end),
			Size:    info.Size(),
			Content: f,
		})
		if err != nil {
			e.logger.WithError(err).Error("send document failed")
			e.edit(ctx, sess, statusID, "Sorry, sending the PDF failed. Please try again.", nil)
			return false
		}
		return true
	}

	e.edit(ctx, sess, statusID, fmt.Sprintf(
		"The resulting PDF is %dMB, which exceeds the %dMB direct-send limit. "+
			"Preparing a download link for you...", info.Size()>>20, e.inlineLimit>>20), nil)

	if isLoopback(e.publicURL) {
		e.logger.WithField("public_url", e.publicURL).Error("public URL not configured for link delivery")
		e.edit(ctx, sess, statusID,
			"Error: The server is not properly configured with a public URL.\n"+
				"Please contact the administrator.", nil)
		return false
	}

	served, err := e.serve.Place(out, outputName)
	if err != nil {
		e.logger.WithError(err).Error("copy to serve directory failed")
		e.edit(ctx, sess, statusID, "Sorry, preparing the download link failed. Please try again.", nil)
		return false
	}
	tok, err := e.registry.Issue(ctx, served, outputName)
	if err != nil {
		e.logger.WithError(err).Error("issue download token failed")
		e.edit(ctx, sess, statusID, "Sorry, preparing the download link failed. Please try again.", nil)
		return false
	}
	if err := e.audit.Record(ctx, tok, outputName, models.AuditIssued, ""); err != nil {
		e.logger.WithError(err).Warn("audit record failed")
	}

	downloadURL := fmt.Sprintf("%s/download/%s", e.publicURL, tok)
	e.logger.WithField("url", downloadURL).Info("issued download link")
	e.send(ctx, sess, fmt.Sprintf(
		"Your PDF with pages %d to %d is ready!\n\nSize: %dMB\n\n"+
			"Use the link below to download it. This link will expire in 24 hours.",
		start, end, info.Size()>>20),
		channel.Row(channel.Button{Label: "Download PDF", URL: downloadURL}))
	return true
}

func (e *Engine) sendNextActions(ctx context.Context, sess *models.Session) {
	sameDoc := filepath.Base(sess.DocumentPath)
	sess.State = models.StateAwaitingSource
	e.send(ctx, sess, "What would you like to do next?", [][]channel.Button{
		{{Label: "Split another PDF", Data: cbBackToStart}},
		{{Label: "Use same PDF", Data: cbSelectPDF + sameDoc}},
		{{Label: "Exit", Data: cbCancelDL}},
	})
}

// isLoopback reports whether the configured public URL would produce
// links unreachable from outside the host.
func isLoopback(publicURL string) bool {
	if publicURL == "" {
		return true
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return true
	}
	host := u.Hostname()
	if host == "" || host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
