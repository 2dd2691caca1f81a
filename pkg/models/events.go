package models

import "time"

// EventType enumerates the structured records the engine emits for
// collaborators (websocket stream, persistence, analytics sinks).
type EventType string

const (
	EventSessionStarted    EventType = "SESSION_STARTED"
	EventPicksSet          EventType = "PICKS_SET"
	EventQuestionPresented EventType = "QUESTION_PRESENTED"
	EventAnswerSubmitted   EventType = "ANSWER_SUBMITTED"
	EventAnswerChanged     EventType = "ANSWER_CHANGED"
	EventSessionPaused     EventType = "SESSION_PAUSED"
	EventSessionResumed    EventType = "SESSION_RESUMED"
	EventSessionAborted    EventType = "SESSION_ABORTED"
	EventFinalized         EventType = "FINALIZED"
)

// Event is a single emitted record. Timestamps come from the engine's
// injected clock and are monotonic per session; Fields carries the
// operation-specific payload (qid, picks, reason, snapshot hash, ...).
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"sessionId"`
	BankHash  string         `json:"bankHash"`
	At        time.Time      `json:"at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EventSink receives emitted events. Sinks must not block: the engine calls
// them synchronously under the session lock.
type EventSink func(Event)
