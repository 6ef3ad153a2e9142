package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pdfsplitbot/internal/channel"
	"pdfsplitbot/internal/models"
)

const chatQueueLen = 16

// ErrChatBusy is returned when a chat's event queue is full.
var ErrChatBusy = errors.New("chat queue full")

// Manager serializes events per chat: one goroutine drains each chat's
// queue, so no two events for the same session run concurrently, while
// distinct chats progress independently.
type Manager struct {
	engine *Engine
	logger *logrus.Logger

	mu     sync.Mutex
	chats  map[int64]*chatWorker
	ctx    context.Context
	cancel context.CancelFunc
}

type chatWorker struct {
	queue   chan channel.Event
	session *models.Session

	mu       sync.Mutex
	opCancel context.CancelFunc
}

// NewManager builds the per-chat dispatcher around an engine.
func NewManager(engine *Engine, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine: engine,
		logger: logger,
		chats:  make(map[int64]*chatWorker),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch queues one event for its chat, spawning the chat worker on
// first contact. A cancel event additionally interrupts the in-flight
// operation so a running download or extraction stops at its next
// chunk boundary.
func (m *Manager) Dispatch(ev channel.Event) error {
	w := m.ensureWorker(ev.Chat())

	if isCancelEvent(ev) {
		w.cancelInFlight()
	}

	select {
	case w.queue <- ev:
		return nil
	default:
		return ErrChatBusy
	}
}

// Session exposes a chat's session for inspection (tests, gateway
// status endpoints). The returned pointer is only safe to read between
// dispatched events.
func (m *Manager) Session(chatID int64) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.chats[chatID]; ok {
		return w.session
	}
	return nil
}

// Close stops all chat workers.
func (m *Manager) Close() {
	m.cancel()
}

func (m *Manager) ensureWorker(chatID int64) *chatWorker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.chats[chatID]; ok {
		return w
	}
	now := time.Now().UTC()
	w := &chatWorker{
		queue: make(chan channel.Event, chatQueueLen),
		session: &models.Session{
			ChatID:    chatID,
			State:     models.StateAwaitingSource,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	m.chats[chatID] = w
	go m.runWorker(chatID, w)
	return w
}

func (m *Manager) runWorker(chatID int64, w *chatWorker) {
	defer func() {
		m.mu.Lock()
		delete(m.chats, chatID)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.WithField("chat", chatID).Debug("chat worker stopped")
			return
		case ev := <-w.queue:
			opCtx, cancel := context.WithCancel(m.ctx)
			w.setCancel(cancel)
			m.safeHandle(opCtx, w.session, ev)
			w.setCancel(nil)
			cancel()
		}
	}
}

// safeHandle converts a panicking transition handler into a logged
// apology; the session is treated as abandoned and restarts clean.
func (m *Manager) safeHandle(ctx context.Context, sess *models.Session, ev channel.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"chat":  sess.ChatID,
				"state": sess.State.String(),
				"panic": r,
			}).Error("transition handler panicked")
			sess.Reset()
			_, _ = m.engine.ch.SendText(ctx, sess.ChatID,
				"Sorry, something went wrong. Please send /start to begin again.", nil)
		}
	}()
	m.engine.Handle(ctx, sess, ev)
}

func (w *chatWorker) setCancel(cancel context.CancelFunc) {
	w.mu.Lock()
	w.opCancel = cancel
	w.mu.Unlock()
}

func (w *chatWorker) cancelInFlight() {
	w.mu.Lock()
	if w.opCancel != nil {
		w.opCancel()
	}
	w.mu.Unlock()
}

func isCancelEvent(ev channel.Event) bool {
	switch ev := ev.(type) {
	case channel.CommandEvent:
		return ev.Name == "cancel"
	case channel.CallbackEvent:
		return ev.Data == cbCancelDL
	default:
		return false
	}
}
