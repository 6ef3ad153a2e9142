package api

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"pdfsplitbot/internal/channel"
	"pdfsplitbot/internal/storage"
	"pdfsplitbot/internal/token"
)

const subscriberBuffer = 32

// OutboundEvent is one bot-to-browser message on the event stream.
type OutboundEvent struct {
	Kind    string             `json:"kind"`
	ID      int64              `json:"id,omitempty"`
	Text    string             `json:"text,omitempty"`
	Buttons [][]channel.Button `json:"buttons,omitempty"`
	Name    string             `json:"name,omitempty"`
	URL     string             `json:"url,omitempty"`
	Size    int64              `json:"size,omitempty"`
}

// Event kinds carried on the stream.
const (
	KindMessage  = "message"
	KindEdit     = "edit"
	KindDocument = "document"
	KindAck      = "ack"
)

// Gateway is the web-chat transport: it implements channel.Channel by
// fanning outbound events to the SSE subscribers of each chat.
// Documents are never streamed inline over SSE; the gateway places
// them in the serve directory and hands out a tokenized link instead.
type Gateway struct {
	serve     *storage.ServeDir
	registry  token.Registry
	publicURL string
	logger    *logrus.Logger

	mu     sync.Mutex
	nextID int64
	subs   map[int64]map[chan OutboundEvent]struct{}
}

// NewGateway builds the transport around the serve directory and token
// registry used for document delivery.
func NewGateway(serve *storage.ServeDir, registry token.Registry, publicURL string, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		serve:     serve,
		registry:  registry,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
		subs:      make(map[int64]map[chan OutboundEvent]struct{}),
	}
}

// Subscribe registers an event listener for a chat. The returned
// function must be called to release it.
func (g *Gateway) Subscribe(chatID int64) (<-chan OutboundEvent, func()) {
	ch := make(chan OutboundEvent, subscriberBuffer)
	g.mu.Lock()
	if g.subs[chatID] == nil {
		g.subs[chatID] = make(map[chan OutboundEvent]struct{})
	}
	g.subs[chatID][ch] = struct{}{}
	g.mu.Unlock()

	return ch, func() {
		g.mu.Lock()
		delete(g.subs[chatID], ch)
		if len(g.subs[chatID]) == 0 {
			delete(g.subs, chatID)
		}
		g.mu.Unlock()
	}
}

func (g *Gateway) broadcast(chatID int64, ev OutboundEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ch := range g.subs[chatID] {
		select {
		case ch <- ev:
		default:
			g.logger.WithField("chat", chatID).Warn("dropping event for slow subscriber")
		}
	}
}

func (g *Gateway) nextMessageID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return g.nextID
}

// SendText implements channel.Channel. Delivery is best effort: a chat
// with no open event stream simply misses the message, matching how a
// chat platform drops messages to closed clients.
func (g *Gateway) SendText(_ context.Context, chatID int64, text string, buttons [][]channel.Button) (int64, error) {
	id := g.nextMessageID()
	g.broadcast(chatID, OutboundEvent{Kind: KindMessage, ID: id, Text: text, Buttons: buttons})
	return id, nil
}

// EditText implements channel.Channel.
func (g *Gateway) EditText(_ context.Context, chatID, messageID int64, text string, buttons [][]channel.Button) error {
	g.broadcast(chatID, OutboundEvent{Kind: KindEdit, ID: messageID, Text: text, Buttons: buttons})
	return nil
}

// SendDocument implements channel.Channel by converting the attachment
// into a tokenized download link.
func (g *Gateway) SendDocument(ctx context.Context, chatID int64, doc channel.Document) error {
	served, err := g.serve.PlaceReader(doc.Content, doc.Name)
	if err != nil {
		return fmt.Errorf("place document: %w", err)
	}
	tok, err := g.registry.Issue(ctx, served, doc.Name)
	if err != nil {
		return fmt.Errorf("issue document token: %w", err)
	}
	g.broadcast(chatID, OutboundEvent{
		Kind: KindDocument,
		ID:   g.nextMessageID(),
		Text: doc.Caption,
		Name: doc.Name,
		URL:  fmt.Sprintf("%s/download/%s", g.publicURL, tok),
		Size: doc.Size,
	})
	return nil
}

// AnswerCallback implements channel.Channel.
func (g *Gateway) AnswerCallback(_ context.Context, chatID int64, callbackID string) error {
	g.broadcast(chatID, OutboundEvent{Kind: KindAck, Text: callbackID})
	return nil
}
