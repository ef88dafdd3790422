package domain

import "time"

// SessionState identifies the step a user's conversation is on.
type SessionState string

const (
	// StateIdle means no conversation is in progress; any message shows the menu.
	StateIdle SessionState = "IDLE"
	// StateAwaitingMenuChoice means the menu was shown and we expect "1" or "2".
	StateAwaitingMenuChoice SessionState = "AWAITING_MENU_CHOICE"
	// StateAwaitingImage means the user chose invoice processing and must send an image.
	StateAwaitingImage SessionState = "AWAITING_IMAGE"
	// StateAwaitingQueryText means the user chose data retrieval and must describe it.
	StateAwaitingQueryText SessionState = "AWAITING_QUERY_TEXT"
)

// Valid reports whether s is one of the known states. Unknown values can
// appear when the stored encoding changes between deployments; the router
// recovers them to the menu.
func (s SessionState) Valid() bool {
	switch s {
	case StateIdle, StateAwaitingMenuChoice, StateAwaitingImage, StateAwaitingQueryText:
		return true
	}
	return false
}

// Session is the per-user conversation state, keyed by the WhatsApp number.
type Session struct {
	UserKey       string       `json:"user_key"`
	State         SessionState `json:"state"`
	PendingTaskID string       `json:"pending_task_id,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewSession returns the fresh IDLE session used for unseen or expired users.
func NewSession(userKey string) Session {
	return Session{UserKey: userKey, State: StateIdle}
}

// Pending reports whether a task is in flight for this session. At most one
// task may be pending per user at any time.
func (s Session) Pending() bool { return s.PendingTaskID != "" }
