package models

import "time"

// State identifies which input the conversation engine is waiting for.
type State int

const (
	StateAwaitingSource State = iota
	StateAwaitingURL
	StateAwaitingDownloadConfirm
	StateAwaitingPageRange
	StateAwaitingLocalSelection
)

func (s State) String() string {
	switch s {
	case StateAwaitingSource:
		return "awaiting_source"
	case StateAwaitingURL:
		return "awaiting_url"
	case StateAwaitingDownloadConfirm:
		return "awaiting_download_confirm"
	case StateAwaitingPageRange:
		return "awaiting_page_range"
	case StateAwaitingLocalSelection:
		return "awaiting_local_selection"
	default:
		return "unknown"
	}
}

// Session holds the per-chat conversation state. Only the fields valid
// for the current state are populated; Reset blanks everything.
type Session struct {
	ChatID int64 `json:"chat_id"`
	State  State `json:"state"`

	// Set once a document has been acquired.
	DocumentPath string `json:"document_path,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`

	// Valid only during the URL acquisition path.
	DownloadURL string `json:"download_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`

	// Parked range awaiting a literal "yes" confirmation.
	PendingStart int `json:"pending_start,omitempty"`
	PendingEnd   int `json:"pending_end,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reset returns the session to a blank AwaitingSource state.
func (s *Session) Reset() {
	s.State = StateAwaitingSource
	s.DocumentPath = ""
	s.PageCount = 0
	s.ClearURL()
	s.ClearPending()
	s.UpdatedAt = time.Now().UTC()
}

// SetDocument records an acquired document and moves to the page-range state.
func (s *Session) SetDocument(path string, pages int) {
	s.DocumentPath = path
	s.PageCount = pages
	s.State = StateAwaitingPageRange
	s.ClearURL()
	s.ClearPending()
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) ClearURL() {
	s.DownloadURL = ""
	s.FileName = ""
}

func (s *Session) ClearPending() {
	s.PendingStart = 0
	s.PendingEnd = 0
}

// HasPending reports whether a parked page range awaits confirmation.
func (s *Session) HasPending() bool {
	return s.PendingStart > 0 && s.PendingEnd > 0
}
