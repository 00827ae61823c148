package websocket

import "github.com/stemsi/exstem-runner/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect   Action = "select"
	ActionClear    Action = "clear"
	ActionNavigate Action = "navigate"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message. Index is used by select, clear
// and navigate; Option only by select.
type RequestPayload struct {
	Action Action `json:"action"`
	Index  *int   `json:"index,omitempty"`
	Option *int   `json:"option,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState  Event = "state"
	EventSaved  Event = "saved"
	EventTick   Event = "tick"
	EventGraded Event = "graded"
	EventPong   Event = "pong"
	EventError  Event = "error"
)

// StateResponse carries the full attempt, sent on connect and after
// navigation.
type StateResponse struct {
	Event   Event               `json:"event"`
	Attempt *model.SessionState `json:"attempt"`
}

// SavedResponse acknowledges a select or clear.
type SavedResponse struct {
	Event   Event `json:"event"`
	Index   int   `json:"index"`
	Applied bool  `json:"applied"`
}

// TickResponse is pushed on every countdown tick.
type TickResponse struct {
	Event       Event               `json:"event"`
	Status      model.SessionStatus `json:"status"`
	RemainingMs int64               `json:"remaining_ms"`
}

// GradedResponse is sent once when the attempt completes.
type GradedResponse struct {
	Event   Event               `json:"event"`
	Trigger model.SubmitTrigger `json:"trigger"`
	Result  *model.ScoreReport  `json:"result"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
