package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"pdfsplitbot/internal/channel"
	"pdfsplitbot/internal/models"
	"pdfsplitbot/internal/pdf"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fakeChannel) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func TestManagerProcessesEventsInOrder(t *testing.T) {
	fx := newFixture(t, &fakeCodec{pages: 3}, Options{})
	m := NewManager(fx.engine, nil)
	defer m.Close()

	if err := m.Dispatch(channel.CommandEvent{ChatID: 7, Name: "start"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := m.Dispatch(uploadEvent("doc.pdf", "pdf")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := m.Dispatch(channel.TextEvent{ChatID: 7, Text: "1-2"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, "inline document", func() bool {
		fx.ch.mu.Lock()
		defer fx.ch.mu.Unlock()
		return len(fx.ch.docs) == 1
	})

	// Welcome first, then the upload status, in dispatch order.
	fx.ch.mu.Lock()
	defer fx.ch.mu.Unlock()
	if !strings.Contains(fx.ch.sends[0].text, "Welcome") {
		t.Fatalf("first message should be the welcome, got: %s", fx.ch.sends[0].text)
	}
	if !strings.Contains(fx.ch.sends[1].text, "Saving your PDF") {
		t.Fatalf("second message should be the upload status, got: %s", fx.ch.sends[1].text)
	}
}

func TestManagerIsolatesChats(t *testing.T) {
	fx := newFixture(t, &fakeCodec{pages: 3}, Options{})
	m := NewManager(fx.engine, nil)
	defer m.Close()

	for _, chat := range []int64{1, 2, 3} {
		if err := m.Dispatch(channel.CommandEvent{ChatID: chat, Name: "start"}); err != nil {
			t.Fatalf("dispatch chat %d: %v", chat, err)
		}
	}
	waitFor(t, "three welcomes", func() bool { return fx.ch.sendCount() == 3 })

	for _, chat := range []int64{1, 2, 3} {
		sess := m.Session(chat)
		if sess == nil || sess.ChatID != chat {
			t.Fatalf("chat %d has no independent session", chat)
		}
	}
	if m.Session(99) != nil {
		t.Fatalf("unknown chat should have no session")
	}
}

// blockingCodec parks Extract until its context is cancelled, standing
// in for a long-running extraction.
type blockingCodec struct {
	pages   int
	entered chan struct{}
}

func (c *blockingCodec) PageCount(string) (int, error) { return c.pages, nil }

func (c *blockingCodec) Extract(ctx context.Context, _ string, _, _ int, _ pdf.ProgressFunc) (string, error) {
	close(c.entered)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestManagerCancelInterruptsExtraction(t *testing.T) {
	codec := &blockingCodec{pages: 50, entered: make(chan struct{})}
	fx := newFixture(t, &fakeCodec{pages: 50}, Options{})
	engine := fx.engine
	engine.codec = codec
	m := NewManager(engine, nil)
	defer m.Close()

	if err := m.Dispatch(uploadEvent("doc.pdf", "pdf")); err != nil {
		t.Fatalf("dispatch upload: %v", err)
	}
	if err := m.Dispatch(channel.TextEvent{ChatID: 7, Text: "1-50"}); err != nil {
		t.Fatalf("dispatch range: %v", err)
	}

	select {
	case <-codec.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("extraction never started")
	}

	if err := m.Dispatch(channel.CommandEvent{ChatID: 7, Name: "cancel"}); err != nil {
		t.Fatalf("dispatch cancel: %v", err)
	}

	waitFor(t, "cancellation notice", func() bool {
		return strings.Contains(fx.ch.allText(), "Operation cancelled")
	})
	sess := m.Session(7)
	if sess.State != models.StateAwaitingSource {
		t.Fatalf("expected reset state after cancel, got %v", sess.State)
	}
	fx.ch.mu.Lock()
	defer fx.ch.mu.Unlock()
	if len(fx.ch.docs) != 0 {
		t.Fatalf("cancelled extraction must not deliver a document")
	}
}

// panicCodec simulates a handler bug so the recovery path can be
// exercised.
type panicCodec struct{}

func (panicCodec) PageCount(string) (int, error) { panic("corrupt page tree") }

func (panicCodec) Extract(context.Context, string, int, int, pdf.ProgressFunc) (string, error) {
	panic("corrupt page tree")
}

func TestManagerRecoversFromPanic(t *testing.T) {
	fx := newFixture(t, &fakeCodec{pages: 3}, Options{})
	engine := fx.engine
	engine.codec = panicCodec{}
	m := NewManager(engine, nil)
	defer m.Close()

	if err := m.Dispatch(uploadEvent("doc.pdf", "pdf")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitFor(t, "apology after panic", func() bool {
		return strings.Contains(fx.ch.allText(), "Sorry, something went wrong")
	})
	sess := m.Session(7)
	if sess.State != models.StateAwaitingSource || sess.DocumentPath != "" {
		t.Fatalf("session should be reset after a panic: %#v", sess)
	}

	// The worker survives and keeps serving the chat.
	engine.codec = &fakeCodec{pages: 3}
	if err := m.Dispatch(channel.CommandEvent{ChatID: 7, Name: "start"}); err != nil {
		t.Fatalf("dispatch after panic: %v", err)
	}
	waitFor(t, "welcome after recovery", func() bool {
		return strings.Contains(fx.ch.allText(), "Welcome")
	})
}

func TestManagerRejectsWhenQueueFull(t *testing.T) {
	codec := &blockingCodec{pages: 50, entered: make(chan struct{})}
	fx := newFixture(t, &fakeCodec{pages: 50}, Options{})
	fx.engine.codec = codec
	m := NewManager(fx.engine, nil)

	if err := m.Dispatch(uploadEvent("doc.pdf", "pdf")); err != nil {
		t.Fatalf("dispatch upload: %v", err)
	}
	if err := m.Dispatch(channel.TextEvent{ChatID: 7, Text: "1-50"}); err != nil {
		t.Fatalf("dispatch range: %v", err)
	}
	select {
	case <-codec.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("extraction never started")
	}

	// The worker is parked in Extract; fill its queue to the brim.
	var busy error
	for i := 0; i < chatQueueLen+1; i++ {
		if err := m.Dispatch(channel.TextEvent{ChatID: 7, Text: "noise"}); err != nil {
			busy = err
			break
		}
	}
	if busy != ErrChatBusy {
		t.Fatalf("expected ErrChatBusy once the queue fills, got %v", busy)
	}
	m.Close()
}
