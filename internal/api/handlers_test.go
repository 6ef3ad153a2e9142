package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pdfsplitbot/internal/bot"
	"pdfsplitbot/internal/fetch"
	"pdfsplitbot/internal/models"
	"pdfsplitbot/internal/pdf"
	"pdfsplitbot/internal/storage"
	"pdfsplitbot/internal/token"
)

// stubCodec reports a fixed page count and fabricates extraction
// output so handler tests need no real PDFs.
type stubCodec struct {
	pages int
}

func (c stubCodec) PageCount(string) (int, error) { return c.pages, nil }

func (c stubCodec) Extract(_ context.Context, src string, start, end int, _ pdf.ProgressFunc) (string, error) {
	dir, err := os.MkdirTemp("", "stubcodec_*")
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, pdf.OutputName(src, start, end))
	return out, os.WriteFile(out, []byte("fake pdf output"), 0o644)
}

type testServer struct {
	router   *gin.Engine
	gateway  *Gateway
	registry *token.MemoryRegistry
	audit    *storage.Audit
	manager  *bot.Manager
}

func newTestServer(t *testing.T, tokenTTL time.Duration) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	lib, err := storage.NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	serve, err := storage.NewServeDir(t.TempDir(), time.Hour, logger)
	if err != nil {
		t.Fatalf("new serve dir: %v", err)
	}
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := token.NewMemoryRegistry(tokenTTL)
	audit := storage.NewAudit(db)
	publicURL := "http://198.51.100.7:8000"
	gateway := NewGateway(serve, reg, publicURL, logger)
	engine := bot.NewEngine(gateway, stubCodec{pages: 5}, fetch.NewFetcher(2<<30, logger),
		lib, serve, reg, audit, bot.Options{PublicURL: publicURL}, logger)
	manager := bot.NewManager(engine, logger)
	t.Cleanup(manager.Close)

	handler := NewHandler(manager, gateway, reg, audit, logger)
	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, gateway: gateway, registry: reg, audit: audit, manager: manager}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func waitEvent(t *testing.T, events <-chan OutboundEvent, what string, match func(OutboundEvent) bool) OutboundEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestDownloadUnknownToken(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	rec := doJSONRequest(t, ts.router, http.MethodGet, "/download/no-such-token", nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestDownloadServesIssuedFile(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	content := []byte("%PDF-1.4 payload bytes")
	path := filepath.Join(t.TempDir(), "served.pdf")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	tok, err := ts.registry.Issue(context.Background(), path, "report_pages_1_to_3.pdf")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rec := doJSONRequest(t, ts.router, http.MethodGet, "/download/"+tok, nil)
	assertStatus(t, rec, http.StatusOK)
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatalf("served bytes differ from the stored file")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "report_pages_1_to_3.pdf") {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	records, err := ts.audit.RecordsForToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if len(records) != 1 || records[0].Event != models.AuditFetched {
		t.Fatalf("expected one fetched audit record, got %+v", records)
	}
	if records[0].ClientIP == "" {
		t.Fatalf("fetched audit record should carry the client IP")
	}
}

func TestDownloadExpiredToken(t *testing.T) {
	ts := newTestServer(t, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "served.pdf")
	if err := os.WriteFile(path, []byte("pdf"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	tok, err := ts.registry.Issue(context.Background(), path, "out.pdf")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	rec := doJSONRequest(t, ts.router, http.MethodGet, "/download/"+tok, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestDownloadSweptFile(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	path := filepath.Join(t.TempDir(), "served.pdf")
	if err := os.WriteFile(path, []byte("pdf"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	tok, err := ts.registry.Issue(context.Background(), path, "out.pdf")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	// The sweep already reclaimed the file; the live token must not
	// expose that distinction.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	rec := doJSONRequest(t, ts.router, http.MethodGet, "/download/"+tok, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestPostMessageDrivesConversation(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	events, unsubscribe := ts.gateway.Subscribe(7)
	defer unsubscribe()

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/chats/7/messages",
		map[string]string{"text": "/start"})
	assertStatus(t, rec, http.StatusAccepted)

	welcome := waitEvent(t, events, "welcome message", func(ev OutboundEvent) bool {
		return ev.Kind == KindMessage && strings.Contains(ev.Text, "Welcome")
	})
	if len(welcome.Buttons) != 3 {
		t.Fatalf("welcome should offer three source options, got %d rows", len(welcome.Buttons))
	}

	rec = doJSONRequest(t, ts.router, http.MethodPost, "/api/chats/7/callbacks",
		map[string]string{"data": "url"})
	assertStatus(t, rec, http.StatusAccepted)
	waitEvent(t, events, "url prompt", func(ev OutboundEvent) bool {
		return strings.Contains(ev.Text, "direct download link")
	})
}

func TestUploadDocumentFeedsChat(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	events, unsubscribe := ts.gateway.Subscribe(9)
	defer unsubscribe()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "thesis.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("%PDF-1.4 fake upload")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/chats/9/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusAccepted)

	waitEvent(t, events, "range prompt", func(ev OutboundEvent) bool {
		return strings.Contains(ev.Text, "Number of pages: 5")
	})
	sess := ts.manager.Session(9)
	if sess == nil || sess.State != models.StateAwaitingPageRange {
		t.Fatalf("upload should land the chat in the page-range state: %+v", sess)
	}
}

func TestInboundValidation(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	cases := []struct {
		name string
		rec  *httptest.ResponseRecorder
	}{
		{"bad chat id", doJSONRequest(t, ts.router, http.MethodPost, "/api/chats/zero/messages",
			map[string]string{"text": "hi"})},
		{"empty text", doJSONRequest(t, ts.router, http.MethodPost, "/api/chats/7/messages",
			map[string]string{"text": "   "})},
		{"callback without data", doJSONRequest(t, ts.router, http.MethodPost, "/api/chats/7/callbacks",
			map[string]string{"id": "x"})},
	}
	for _, tc := range cases {
		if tc.rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", tc.name, tc.rec.Code, tc.rec.Body.String())
		}
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(fw, "plain text")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/chats/7/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestEventStreamDeliversMessages(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/chats/4/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var kind, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && kind != "":
				return kind, data
			}
		}
	}

	kind, _ := readEvent()
	if kind != "ready" {
		t.Fatalf("expected ready event first, got %q", kind)
	}

	rec := doJSONRequest(t, ts.router, http.MethodPost, "/api/chats/4/messages",
		map[string]string{"text": "/start"})
	assertStatus(t, rec, http.StatusAccepted)

	kind, data := readEvent()
	if kind != KindMessage {
		t.Fatalf("expected message event, got %q", kind)
	}
	var ev OutboundEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if !strings.Contains(ev.Text, "Welcome") {
		t.Fatalf("unexpected event payload: %s", data)
	}
}
