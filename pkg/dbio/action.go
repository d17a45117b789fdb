package dbio

import "github.com/google/uuid"

// Provenance action verbs recorded against a subject.
const (
	ActionCreate  = "CREATE"
	ActionPut     = "PUT"
	ActionPatch   = "PATCH"
	ActionMove    = "MOVE"
	ActionDelete  = "DELETE"
	ActionComment = "COMMENT"
	ActionProcess = "PROCESS"
	ActionSubmit  = "SUBMIT"
	ActionPublish = "PUBLISH"
)

// Action is an immutable provenance tuple appended to a per-subject log. It
// is never edited in place; archival moves a batch of actions into a History
// entry.
type Action struct {
	Type      string         `json:"type"`
	Subject   string         `json:"subject"`
	Agent     string         `json:"agent"`
	Message   string         `json:"message,omitempty"`
	Object    map[string]any `json:"object,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// NewAction stamps an action with the current time.
func NewAction(atype, subject, agent, message string) Action {
	return Action{
		Type:      atype,
		Subject:   subject,
		Agent:     agent,
		Message:   message,
		Timestamp: Now(),
	}
}

// History is an immutable archived bundle: the action log of a subject at the
// moment it was closed, the closing action, caller-supplied extra fields, and
// a snapshot of who could read the record at archival time.
type History struct {
	ID          string         `json:"id"`
	Subject     string         `json:"subject"`
	Actions     []Action       `json:"actions"`
	CloseAction Action         `json:"close_action"`
	Extra       map[string]any `json:"extra,omitempty"`
	ReadACL     []string       `json:"acl"`
	ArchivedAt  float64        `json:"archived_at"`
}

// NewHistory assembles a history entry for a subject, assigning it a unique
// identifier and the current archival time.
func NewHistory(subject string, actions []Action, closing Action, extra map[string]any, readACL []string) History {
	return History{
		ID:          uuid.NewString(),
		Subject:     subject,
		Actions:     append([]Action(nil), actions...),
		CloseAction: closing,
		Extra:       cloneDoc(extra),
		ReadACL:     append([]string(nil), readACL...),
		ArchivedAt:  Now(),
	}
}
