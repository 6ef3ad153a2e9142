// Package channel defines the messaging-platform contract the
// conversation engine is written against. Transports (web gateway,
// chat-platform adapters) implement Channel; inbound traffic arrives
// as Events.
package channel

import (
	"context"
	"io"
)

// Button is one inline choice offered below a message. Data carries an
// opaque callback payload; URL buttons open a link instead.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Row builds a single-row keyboard layout.
func Row(buttons ...Button) [][]Button {
	return [][]Button{buttons}
}

// Document is an outbound file attachment.
type Document struct {
	Name    string
	Caption string
	Size    int64
	Content io.Reader
}

// Channel is the outbound capability set the engine requires. Large
// attachment transfers may be slow; implementations own their timeouts.
type Channel interface {
	// SendText delivers a message with an optional inline keyboard and
	// returns an identifier usable with EditText.
	SendText(ctx context.Context, chatID int64, text string, buttons [][]Button) (int64, error)
	// EditText replaces a previously sent message's text and keyboard.
	EditText(ctx context.Context, chatID, messageID int64, text string, buttons [][]Button) error
	// SendDocument streams a file to the chat as a downloadable attachment.
	SendDocument(ctx context.Context, chatID int64, doc Document) error
	// AnswerCallback acknowledges a button press.
	AnswerCallback(ctx context.Context, chatID int64, callbackID string) error
}

// Event is any inbound occurrence on a chat.
type Event interface {
	Chat() int64
}

// TextEvent is a free-text message.
type TextEvent struct {
	ChatID int64
	Text   string
}

func (e TextEvent) Chat() int64 { return e.ChatID }

// CommandEvent is a slash command with optional arguments.
type CommandEvent struct {
	ChatID int64
	Name   string
	Args   []string
}

func (e CommandEvent) Chat() int64 { return e.ChatID }

// DocumentEvent is an uploaded file payload. The engine is responsible
// for closing Content.
type DocumentEvent struct {
	ChatID  int64
	Name    string
	Size    int64
	Content io.ReadCloser
}

func (e DocumentEvent) Chat() int64 { return e.ChatID }

// CallbackEvent is a button press. ID is acknowledged via
// AnswerCallback; Data is the pressed button's payload.
type CallbackEvent struct {
	ChatID int64
	ID     string
	Data   string
}

func (e CallbackEvent) Chat() int64 { return e.ChatID }
