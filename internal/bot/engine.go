// Package bot drives the PDF-splitting conversation: three acquisition
// flows (upload, remote URL, stored library) converging on page-range
// extraction, followed by a size-based distribution decision.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"pdfsplitbot/internal/channel"
	"pdfsplitbot/internal/fetch"
	"pdfsplitbot/internal/models"
	"pdfsplitbot/internal/pdf"
	"pdfsplitbot/internal/storage"
	"pdfsplitbot/internal/token"
)

// Callback payloads for inline buttons.
const (
	cbUpload      = "upload"
	cbURL         = "url"
	cbLocal       = "local"
	cbBackToStart = "back_to_start"
	cbConfirmDL   = "confirm_download"
	cbCancelDL    = "cancel_download"
	cbSelectPDF   = "select_pdf:"
)

// Ranges longer than this park as pending and require a literal "yes".
const largeRangePages = 1000

// Engine executes conversation transitions for one chat at a time.
// Sessions are handed in by the Manager, which serializes events per
// chat; Engine itself keeps no per-chat mutable state.
type Engine struct {
	ch       channel.Channel
	codec    pdf.Codec
	fetcher  *fetch.Fetcher
	library  *storage.Library
	serve    *storage.ServeDir
	registry token.Registry
	audit    *storage.Audit
	logger   *logrus.Logger

	publicURL   string
	inlineLimit int64
}

// Options carries the delivery-side configuration.
type Options struct {
	PublicURL   string
	InlineLimit int64
}

// NewEngine wires the engine's collaborators.
func NewEngine(ch channel.Channel, codec pdf.Codec, fetcher *fetch.Fetcher, library *storage.Library,
	serve *storage.ServeDir, registry token.Registry, audit *storage.Audit,
	opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.InlineLimit <= 0 {
		opts.InlineLimit = 50 << 20
	}
	return &Engine{
		ch:          ch,
		codec:       codec,
		fetcher:     fetcher,
		library:     library,
		serve:       serve,
		registry:    registry,
		audit:       audit,
		logger:      logger,
		publicURL:   strings.TrimRight(opts.PublicURL, "/"),
		inlineLimit: opts.InlineLimit,
	}
}

// Handle applies one event to the session. Unexpected input types are
// re-prompted, never fatal.
func (e *Engine) Handle(ctx context.Context, sess *models.Session, ev channel.Event) {
	switch ev := ev.(type) {
	case channel.CommandEvent:
		e.handleCommand(ctx, sess, ev)
	case channel.CallbackEvent:
		if ev.ID != "" {
			if err := e.ch.AnswerCallback(ctx, sess.ChatID, ev.ID); err != nil {
				e.logger.WithError(err).Debug("answer callback failed")
			}
		}
		e.handleCallback(ctx, sess, ev)
	case channel.TextEvent:
		e.handleText(ctx, sess, ev)
	case channel.DocumentEvent:
		e.handleDocument(ctx, sess, ev)
	default:
		e.send(ctx, sess, "I didn't understand that. Send /start to begin.", nil)
	}
}

func (e *Engine) handleCommand(ctx context.Context, sess *models.Session, ev channel.CommandEvent) {
	switch ev.Name {
	case "start":
		sess.Reset()
		e.sendWelcome(ctx, sess, 0)
	case "cancel":
		sess.Reset()
		e.send(ctx, sess, "Operation cancelled. Send /start to begin again.", nil)
	case "list_pdfs":
		e.listStored(ctx, sess)
	case "clear_pdfs":
		e.clearStored(ctx, sess, ev.Args)
	default:
		e.send(ctx, sess, "Unknown command. Send /start to begin.", nil)
	}
}

func (e *Engine) sendWelcome(ctx context.Context, sess *models.Session, editID int64) {
	text := "Welcome to the PDF Splitter Bot!\n\nHow would you like to provide your PDF?"
	buttons := [][]channel.Button{
		{{Label: "Upload PDF", Data: cbUpload}},
		{{Label: "Provide URL", Data: cbURL}},
		{{Label: "Select from stored PDFs", Data: cbLocal}},
	}
	if editID > 0 {
		e.edit(ctx, sess, editID, text, buttons)
		return
	}
	e.send(ctx, sess, text, buttons)
}

func (e *Engine) handleCallback(ctx context.Context, sess *models.Session, ev channel.CallbackEvent) {
	switch {
	case ev.Data == cbUpload:
		sess.State = models.StateAwaitingSource
		e.send(ctx, sess, fmt.Sprintf(
			"Please upload your PDF file.\n\nNote: I can only process files up to %dMB sent directly.",
			e.inlineLimit>>20), nil)
	case ev.Data == cbURL:
		sess.State = models.StateAwaitingURL
		e.send(ctx, sess,
			"Please send me a direct download link to your PDF file.\n\n"+
				"The link must point straight at a PDF document.", nil)
	case ev.Data == cbLocal:
		e.offerLocalSelection(ctx, sess)
	case ev.Data == cbBackToStart:
		sess.Reset()
		e.sendWelcome(ctx, sess, 0)
	case strings.HasPrefix(ev.Data, cbSelectPDF):
		e.selectStored(ctx, sess, strings.TrimPrefix(ev.Data, cbSelectPDF))
	case ev.Data == cbConfirmDL:
		e.confirmDownload(ctx, sess)
	case ev.Data == cbCancelDL:
		sess.Reset()
		e.send(ctx, sess, "Operation cancelled. Send /start to begin again.", nil)
	default:
		e.logger.WithField("data", ev.Data).Debug("ignoring unknown callback")
	}
}

func (e *Engine) handleText(ctx context.Context, sess *models.Session, ev channel.TextEvent) {
	switch sess.State {
	case models.StateAwaitingURL:
		e.acceptURL(ctx, sess, strings.TrimSpace(ev.Text))
	case models.StateAwaitingPageRange:
		e.processRange(ctx, sess, strings.TrimSpace(ev.Text))
	default:
		e.send(ctx, sess, "Please use the buttons above, or send /start to begin.", nil)
	}
}

// handleDocument runs the upload acquisition flow.
func (e *Engine) handleDocument(ctx context.Context, sess *models.Session, ev channel.DocumentEvent) {
	defer ev.Content.Close()

	if sess.State != models.StateAwaitingSource {
		e.send(ctx, sess, "I wasn't expecting a file right now. Send /start to begin.", nil)
		return
	}
	if ev.Size > e.inlineLimit {
		e.send(ctx, sess, fmt.Sprintf(
			"This file is too large (over %dMB) to send directly.\n\n"+
				"You can provide a direct download link instead, or try a smaller file.",
			e.inlineLimit>>20),
			[][]channel.Button{
				{{Label: "Provide URL Instead", Data: cbURL}},
				{{Label: "Try Another File", Data: cbUpload}},
			})
		return
	}

	statusID := e.send(ctx, sess, "Saving your PDF... Please wait.", nil)

	name := ev.Name
	if name == "" {
		name = fmt.Sprintf("upload_%d.pdf", sess.ChatID)
	}
	path, err := e.library.Save(name, ev.Content)
	if err != nil {
		e.logger.WithError(err).Error("store upload failed")
		e.edit(ctx, sess, statusID, "Sorry, there was an error saving your PDF. Please try again.", nil)
		return
	}

	pages, err := e.codec.PageCount(path)
	if err != nil {
		e.logger.WithError(err).Error("analyze upload failed")
		_ = e.library.Remove(name)
		e.edit(ctx, sess, statusID,
			"Sorry, there was an error processing your PDF. Please try again with another file.", nil)
		return
	}

	sess.SetDocument(path, pages)
	e.edit(ctx, sess, statusID, e.rangePrompt(path, pages), nil)
}

// acceptURL validates the link and asks for confirmation before any
// bytes are transferred.
func (e *Engine) acceptURL(ctx context.Context, sess *models.Session, rawURL string) {
	statusID := e.send(ctx, sess, "Checking the URL... Please wait.", nil)

	remote, err := e.fetcher.Probe(ctx, rawURL)
	if err != nil {
		e.edit(ctx, sess, statusID, probeErrorText(err), nil)
		return
	}

	sess.DownloadURL = remote.URL
	sess.FileName = remote.FileName
	sess.State = models.StateAwaitingDownloadConfirm

	sizeInfo := "Unknown size"
	if remote.Size > 0 {
		sizeInfo = fmt.Sprintf("%dMB", remote.Size>>20)
	}
	e.edit(ctx, sess, statusID, fmt.Sprintf(
		"I found a file at this URL:\n\nName: %s\nSize: %s\n\nWould you like me to download and process this file?",
		remote.FileName, sizeInfo),
		[][]channel.Button{
			{{Label: "Yes, download it", Data: cbConfirmDL}},
			{{Label: "No, cancel", Data: cbCancelDL}},
		})
}

func probeErrorText(err error) string {
	var statusErr *fetch.StatusError
	switch {
	case errors.Is(err, fetch.ErrBadScheme):
		return "Please provide a valid URL starting with http:// or https://"
	case errors.Is(err, fetch.ErrNotPDF):
		return "This URL doesn't seem to point to a PDF file.\nPlease provide a direct download link to a PDF."
	case errors.Is(err, fetch.ErrTooLarge):
		return "The file behind this URL is too large for me to download.\nPlease try a smaller document."
	case errors.As(err, &statusErr):
		return fmt.Sprintf("Error accessing the URL. Server returned status code: %d\nPlease check the URL and try again.", statusErr.Code)
	default:
		return "Error accessing the URL. Please check if the link is correct and try again."
	}
}

// confirmDownload runs the URL acquisition flow. A failure here is
// terminal: the URL context is consumed either way.
func (e *Engine) confirmDownload(ctx context.Context, sess *models.Session) {
	if sess.State != models.StateAwaitingDownloadConfirm || sess.DownloadURL == "" {
		e.send(ctx, sess, "Sorry, there was an issue. Please send /start to try again.", nil)
		sess.Reset()
		return
	}
	remote := models.RemoteFile{URL: sess.DownloadURL, FileName: sess.FileName, Size: -1}
	sess.ClearURL()

	statusID := e.send(ctx, sess, "Starting download... This might take a while for large files.", nil)

	dest := e.library.Path(remote.FileName)
	_, err := e.fetcher.Download(ctx, remote, dest, func(downloaded, total int64) {
		text := fmt.Sprintf("Downloading: %.1fMB so far", float64(downloaded)/(1<<20))
		if total > 0 {
			text = fmt.Sprintf("Downloading: %.1f%% complete\n(%.1fMB of %.1fMB)",
				float64(downloaded)/float64(total)*100,
				float64(downloaded)/(1<<20), float64(total)/(1<<20))
		}
		if err := e.ch.EditText(ctx, sess.ChatID, statusID, text, nil); err != nil {
			e.logger.WithError(err).Warn("could not update download progress")
		}
	})
	if err != nil {
		e.logger.WithError(err).Error("download failed")
		sess.Reset()
		e.edit(ctx, sess, statusID,
			"Sorry, there was an error downloading or processing the file.\n\n"+
				"Please check your link and send /start to try again.", nil)
		return
	}

	e.edit(ctx, sess, statusID, "Download complete. Analyzing PDF...", nil)
	pages, err := e.codec.PageCount(dest)
	if err != nil {
		e.logger.WithError(err).Error("analyze download failed")
		_ = e.library.Remove(remote.FileName)
		sess.Reset()
		e.edit(ctx, sess, statusID,
			"The downloaded file could not be read as a PDF.\nPlease check your link and send /start to try again.", nil)
		return
	}

	sess.SetDocument(dest, pages)
	e.edit(ctx, sess, statusID, fmt.Sprintf(
		"PDF downloaded and processed successfully! It has %d pages.\n\n%s",
		pages, rangeInstruction), nil)
}

// offerLocalSelection lists stored PDFs, falling back to the other two
// acquisition paths when the library is empty.
func (e *Engine) offerLocalSelection(ctx context.Context, sess *models.Session) {
	docs, err := e.library.List(storage.MaxListed)
	if err != nil {
		e.logger.WithError(err).Error("list stored pdfs failed")
		e.send(ctx, sess, "Sorry, the stored files are unavailable right now. Please try another option.", nil)
		return
	}
	if len(docs) == 0 {
		sess.State = models.StateAwaitingSource
		e.send(ctx, sess,
			"No PDF files are currently stored on the server.\n\nPlease choose another option:",
			[][]channel.Button{
				{{Label: "Upload PDF", Data: cbUpload}},
				{{Label: "Provide URL", Data: cbURL}},
			})
		return
	}

	buttons := make([][]channel.Button, 0, len(docs)+1)
	for _, doc := range docs {
		buttons = append(buttons, []channel.Button{{
			Label: fmt.Sprintf("%s (%.1fMB)", doc.FileName, float64(doc.Size)/(1<<20)),
			Data:  cbSelectPDF + doc.FileName,
		}})
	}
	buttons = append(buttons, []channel.Button{{Label: "Back", Data: cbBackToStart}})
	sess.State = models.StateAwaitingLocalSelection
	e.send(ctx, sess, "Select a PDF file to split:", buttons)
}

// selectStored runs the local-library acquisition flow. It also serves
// the "use same PDF" follow-up after a completed extraction.
func (e *Engine) selectStored(ctx context.Context, sess *models.Session, name string) {
	path := e.library.Path(name)
	if _, err := os.Stat(path); err != nil {
		sess.State = models.StateAwaitingSource
		e.send(ctx, sess, "Sorry, the selected file no longer exists. Please try another option.",
			[][]channel.Button{
				{{Label: "Back to stored PDFs", Data: cbLocal}},
				{{Label: "Back to start", Data: cbBackToStart}},
			})
		return
	}

	statusID := e.send(ctx, sess, "Analyzing the selected PDF...", nil)
	pages, err := e.codec.PageCount(path)
	if err != nil {
		e.logger.WithError(err).Error("analyze stored pdf failed")
		e.edit(ctx, sess, statusID, "Sorry, there was an error processing this PDF. Please try another file.", nil)
		e.offerLocalSelection(ctx, sess)
		return
	}

	sess.SetDocument(path, pages)
	e.edit(ctx, sess, statusID, e.rangePrompt(path, pages), nil)
}

const rangeInstruction = "Please specify which pages you want to extract in the format: start-end\n" +
	"For example: 1-5 (to extract pages 1 through 5), or a single page like 7."

func (e *Engine) rangePrompt(path string, pages int) string {
	return fmt.Sprintf("Selected PDF: %s\nNumber of pages: %d\n\n%s",
		filepath.Base(path), pages, rangeInstruction)
}

func (e *Engine) listStored(ctx context.Context, sess *models.Session) {
	docs, err := e.library.List(1 << 20)
	if err != nil {
		e.logger.WithError(err).Error("list stored pdfs failed")
		e.send(ctx, sess, "Sorry, the stored files are unavailable right now.", nil)
		return
	}
	if len(docs) == 0 {
		e.send(ctx, sess, "No PDF files are currently stored on the server.", nil)
		return
	}
	var b strings.Builder
	b.WriteString("Stored PDF files:\n\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "%d. %s (%.1fMB)\n", i+1, doc.FileName, float64(doc.Size)/(1<<20))
	}
	e.send(ctx, sess, b.String(), nil)
}

func (e *Engine) clearStored(ctx context.Context, sess *models.Session, args []string) {
	if len(args) == 0 || !strings.EqualFold(args[0], "confirm") {
		e.send(ctx, sess, "This will delete ALL stored PDF files.\nTo confirm, use: /clear_pdfs confirm", nil)
		return
	}
	deleted, err := e.library.Clear()
	if err != nil {
		e.logger.WithError(err).Error("clear stored pdfs failed")
		e.send(ctx, sess, "Sorry, clearing the stored files failed.", nil)
		return
	}
	if deleted == 0 {
		e.send(ctx, sess, "No PDF files to delete.", nil)
		return
	}
	e.send(ctx, sess, fmt.Sprintf("Deleted %d PDF files from storage.", deleted), nil)
}

// send delivers a message, logging rather than propagating failures;
// the engine must stay responsive even when the channel hiccups.
func (e *Engine) send(ctx context.Context, sess *models.Session, text string, buttons [][]channel.Button) int64 {
	id, err := e.ch.SendText(ctx, sess.ChatID, text, buttons)
	if err != nil {
		e.logger.WithError(err).WithField("chat", sess.ChatID).Warn("send failed")
	}
	return id
}

func (e *Engine) edit(ctx context.Context, sess *models.Session, messageID int64, text string, buttons [][]channel.Button) {
	if messageID <= 0 {
		e.send(ctx, sess, text, buttons)
		return
	}
	if err := e.ch.EditText(ctx, sess.ChatID, messageID, text, buttons); err != nil {
		e.logger.WithError(err).WithField("chat", sess.ChatID).Warn("edit failed")
	}
}
