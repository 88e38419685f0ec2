package models

// ProbeStatus is the availability classification of one candidate model for the current credential.
type ProbeStatus string

const (
	// ProbeUntested is the status of every candidate before a probe is launched, or after the credential
	// is cleared.
	ProbeUntested ProbeStatus = "untested"
	// ProbeChecking means a probe has been launched and has not resolved yet.
	ProbeChecking ProbeStatus = "checking"
	// ProbeAvailable means the remote API accepted a minimal request for the model.
	ProbeAvailable ProbeStatus = "available"
	// ProbeUnavailable means the probe was rejected or failed, whatever the reason.
	ProbeUnavailable ProbeStatus = "unavailable"
)

// Resolved reports whether s is a terminal probe status.
func (s ProbeStatus) Resolved() bool {
	return s == ProbeAvailable || s == ProbeUnavailable
}

// Phase is the state of the session's send/stream state machine.
type Phase string

const (
	// PhaseIdle accepts a new submission.
	PhaseIdle Phase = "idle"
	// PhaseSending means the chat request is issued and no reply fragment has arrived yet.
	PhaseSending Phase = "sending"
	// PhaseStreaming means reply fragments are being appended to the assistant entry.
	PhaseStreaming Phase = "streaming"
)

// SessionState is the consistent read-only view of a session handed to the presentation layer. Every field is
// a copy, so holding on to a SessionState never observes later mutations.
type SessionState struct {
	// Version increases with every mutation, letting consumers drop snapshots delivered out of order.
	Version uint64 `json:"version"`

	Messages []Message `json:"messages"`
	Phase    Phase     `json:"phase"`
	Loading  bool      `json:"loading"`
	// Error is the last user-visible error, empty when there is none.
	Error string `json:"error,omitempty"`

	DeveloperMessage string                 `json:"developerMessage"`
	HasCredential    bool                   `json:"hasCredential"`
	Candidates       []string               `json:"candidates"`
	ModelStatus      map[string]ProbeStatus `json:"modelStatus"`
	SelectedModel    string                 `json:"selectedModel"`

	// Hint is the welcome text shown while the transcript is empty.
	Hint string `json:"hint,omitempty"`
}
