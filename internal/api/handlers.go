package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pdfsplitbot/internal/bot"
	"pdfsplitbot/internal/channel"
	"pdfsplitbot/internal/models"
	"pdfsplitbot/internal/storage"
	"pdfsplitbot/internal/token"
)

const maxUploadBytes = 2 << 30

// Handler wires HTTP routes to the token-gated file host and the
// web-chat gateway.
type Handler struct {
	manager  *bot.Manager
	gateway  *Gateway
	registry token.Registry
	audit    *storage.Audit
	logger   *logrus.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(manager *bot.Manager, gateway *Gateway, registry token.Registry, audit *storage.Audit, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		manager:  manager,
		gateway:  gateway,
		registry: registry,
		audit:    audit,
		logger:   logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/download/:token", h.downloadFile)

	chat := router.Group("/api/chats/:chat_id")
	chat.GET("/events", h.streamEvents)
	chat.POST("/messages", h.postMessage)
	chat.POST("/callbacks", h.postCallback)
	chat.POST("/uploads", h.uploadDocument)
}

func chatIDParam(c *gin.Context) (int64, bool) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return chatID, true
}

// downloadFile serves one tokenized output. Unknown, expired, and
// swept-away files all collapse to 404 so the token namespace leaks
// nothing.
func (h *Handler) downloadFile(c *gin.Context) {
	tok := c.Param("token")
	entry, err := h.registry.Resolve(c.Request.Context(), tok)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "this download link is invalid or has expired"})
			return
		}
		h.logger.WithError(err).Error("resolve download token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve download link"})
		return
	}
	if _, err := os.Stat(entry.FilePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "this download link is invalid or has expired"})
		return
	}

	if err := h.audit.Record(c.Request.Context(), tok, entry.FileName, models.AuditFetched, c.ClientIP()); err != nil {
		h.logger.WithError(err).Warn("audit record failed")
	}

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(entry.FilePath, entry.FileName)
}

type messageRequest struct {
	Text string `json:"text"`
}

// postMessage accepts free text; a leading slash makes it a command.
func (h *Handler) postMessage(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	var ev channel.Event
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		ev = channel.CommandEvent{
			ChatID: chatID,
			Name:   strings.TrimPrefix(fields[0], "/"),
			Args:   fields[1:],
		}
	} else {
		ev = channel.TextEvent{ChatID: chatID, Text: text}
	}
	h.dispatch(c, ev)
}

type callbackRequest struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

func (h *Handler) postCallback(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Data == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data is required"})
		return
	}
	h.dispatch(c, channel.CallbackEvent{ChatID: chatID, ID: req.ID, Data: req.Data})
}

// uploadDocument accepts a multipart PDF and feeds it to the chat as a
// document event. The payload is spooled to a private temp file first:
// gin reclaims the multipart form when the request ends, while the chat
// worker consumes the upload asynchronously.
func (h *Handler) uploadDocument(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	name := filepath.Base(file.Filename)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF files are accepted"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer src.Close()

	spool, err := os.CreateTemp("", "upload_*.pdf")
	if err != nil {
		h.logger.WithError(err).Error("spool upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	if _, err := io.Copy(spool, src); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		h.logger.WithError(err).Error("spool upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}

	ev := channel.DocumentEvent{
		ChatID:  chatID,
		Name:    name,
		Size:    file.Size,
		Content: &spooledFile{File: spool},
	}
	if err := h.manager.Dispatch(ev); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		if errors.Is(err, bot.ErrChatBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "chat is busy, please retry"})
			return
		}
		h.logger.WithError(err).Error("dispatch upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not accept file"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"file_name": name,
		"size":      file.Size,
	})
}

// spooledFile removes its backing temp file when the consumer closes it.
type spooledFile struct {
	*os.File
}

func (f *spooledFile) Close() error {
	err := f.File.Close()
	os.Remove(f.File.Name())
	return err
}

func (h *Handler) dispatch(c *gin.Context, ev channel.Event) {
	if err := h.manager.Dispatch(ev); err != nil {
		if errors.Is(err, bot.ErrChatBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "chat is busy, please retry"})
			return
		}
		h.logger.WithError(err).Error("dispatch event failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not process event"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// streamEvents holds an SSE connection open and relays the chat's
// outbound events until the client disconnects.
func (h *Handler) streamEvents(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(kind string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", kind); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	events, unsubscribe := h.gateway.Subscribe(chatID)
	defer unsubscribe()

	if err := sendEvent("ready", gin.H{"chat_id": chatID}); err != nil {
		return
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			if err := sendEvent(ev.Kind, ev); err != nil {
				return
			}
		}
	}
}
