package audit

import "time"

// EventType names what happened
type EventType string

const (
	EventSignIn         EventType = "session.sign_in"
	EventSignUp         EventType = "session.sign_up"
	EventSignOut        EventType = "session.sign_out"
	EventSessionCleared EventType = "session.cleared"

	EventGraphCreate EventType = "graph.create"
	EventGraphUpdate EventType = "graph.update"
	EventGraphDelete EventType = "graph.delete"
)

// GraphEvent maps a mutation operation to its event type
func GraphEvent(op string) EventType {
	return EventType("graph." + op)
}

// Status is the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// StatusOf returns StatusFailure for a non-nil err
func StatusOf(err error) Status {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// Event is one audit trail entry
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Status    Status    `json:"status"`

	// Actor
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`

	// Target, for graph events
	Kind     string `json:"kind,omitempty"`
	TargetID string `json:"targetId,omitempty"`

	Reason       string `json:"reason,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
