package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the kind of progress event published during a run.
type EventType string

const (
	// EventLog carries a free-form log line from a stage.
	EventLog EventType = "log"
	// EventThought carries intermediate reasoning from a stage.
	EventThought EventType = "thought"
	// EventPlan carries a full plan snapshot.
	EventPlan EventType = "plan"
	// EventMilestone carries a milestone status update.
	EventMilestone EventType = "milestone"
	// EventTask carries a task status update.
	EventTask EventType = "task"
	// EventArtifact announces an artifact produced by a task.
	EventArtifact EventType = "artifact"
	// EventError carries a failure description. A fatal error is terminal.
	EventError EventType = "error"
	// EventDone is the terminal event carrying the final plan and summary.
	EventDone EventType = "done"
	// EventInfo carries informational notices (e.g. degraded retrieval).
	EventInfo EventType = "info"
)

// Valid returns true if the event type is a known value.
func (t EventType) Valid() bool {
	switch t {
	case EventLog, EventThought, EventPlan, EventMilestone, EventTask,
		EventArtifact, EventError, EventDone, EventInfo:
		return true
	default:
		return false
	}
}

// Payload is the type-specific content of an event. Exactly one concrete
// payload type corresponds to each EventType.
type Payload interface {
	eventType() EventType
}

// LogPayload is the content of an EventLog.
type LogPayload struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

// ThoughtPayload is the content of an EventThought.
type ThoughtPayload struct {
	Text string `json:"text"`
}

// PlanPayload is the content of an EventPlan.
type PlanPayload struct {
	Plan *ImplementationPlan `json:"plan"`
}

// MilestonePayload is the content of an EventMilestone.
type MilestonePayload struct {
	MilestoneID string `json:"milestone_id"`
	Title       string `json:"title,omitempty"`
	Status      Status `json:"status"`
}

// TaskPayload is the content of an EventTask.
type TaskPayload struct {
	TaskID      string `json:"task_id"`
	MilestoneID string `json:"milestone_id"`
	Status      Status `json:"status"`
	Detail      string `json:"detail,omitempty"`
}

// ArtifactPayload is the content of an EventArtifact.
type ArtifactPayload struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ErrorPayload is the content of an EventError. Fatal errors terminate the
// run without a done event (planning failures, controller faults).
type ErrorPayload struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// DonePayload is the content of the terminal EventDone.
type DonePayload struct {
	Status  RunStatus           `json:"status"`
	Plan    *ImplementationPlan `json:"plan,omitempty"`
	Summary string              `json:"summary,omitempty"`
}

// InfoPayload is the content of an EventInfo.
type InfoPayload struct {
	Message string `json:"message"`
}

func (LogPayload) eventType() EventType       { return EventLog }
func (ThoughtPayload) eventType() EventType   { return EventThought }
func (PlanPayload) eventType() EventType      { return EventPlan }
func (MilestonePayload) eventType() EventType { return EventMilestone }
func (TaskPayload) eventType() EventType      { return EventTask }
func (ArtifactPayload) eventType() EventType  { return EventArtifact }
func (ErrorPayload) eventType() EventType     { return EventError }
func (DonePayload) eventType() EventType      { return EventDone }
func (InfoPayload) eventType() EventType      { return EventInfo }

// Event is an immutable progress record published during a run. Seq is
// assigned by the bus at publish time and is strictly increasing per run.
type Event struct {
	// Seq is the 1-based position in the run's event history.
	Seq uint64
	// Type is the kind of event.
	Type EventType
	// Agent is the stage that produced the event (analyst, architect,
	// implementer, controller).
	Agent string
	// Timestamp is when the event was created. Monotonic within a run.
	Timestamp time.Time
	// Content is the type-specific payload.
	Content Payload
}

// NewEvent creates an event for the given payload. The event type is derived
// from the payload's concrete type.
func NewEvent(agent string, content Payload) Event {
	return Event{
		Type:      content.eventType(),
		Agent:     agent,
		Timestamp: time.Now().UTC(),
		Content:   content,
	}
}

// Terminal returns true if no event may follow this one in a run's history.
func (e Event) Terminal() bool {
	if e.Type == EventDone {
		return true
	}
	if p, ok := e.Content.(ErrorPayload); ok {
		return p.Fatal
	}
	return false
}

// eventJSON is the wire shape of an event.
type eventJSON struct {
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Agent     string          `json:"agent"`
	Timestamp time.Time       `json:"ts"`
	Content   json.RawMessage `json:"content"`
}

// MarshalJSON encodes the event with the payload nested under "content".
func (e Event) MarshalJSON() ([]byte, error) {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal %s content: %w", e.Type, err)
	}
	return json.Marshal(eventJSON{
		Seq:       e.Seq,
		Type:      e.Type,
		Agent:     e.Agent,
		Timestamp: e.Timestamp,
		Content:   content,
	})
}

// UnmarshalJSON decodes the payload into the concrete type selected by
// the event's type tag.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content, err := decodePayload(raw.Type, raw.Content)
	if err != nil {
		return err
	}
	e.Seq = raw.Seq
	e.Type = raw.Type
	e.Agent = raw.Agent
	e.Timestamp = raw.Timestamp
	e.Content = content
	return nil
}

func decodePayload(t EventType, data json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case EventLog:
		p = &LogPayload{}
	case EventThought:
		p = &ThoughtPayload{}
	case EventPlan:
		p = &PlanPayload{}
	case EventMilestone:
		p = &MilestonePayload{}
	case EventTask:
		p = &TaskPayload{}
	case EventArtifact:
		p = &ArtifactPayload{}
	case EventError:
		p = &ErrorPayload{}
	case EventDone:
		p = &DonePayload{}
	case EventInfo:
		p = &InfoPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s content: %w", t, err)
	}
	return deref(p), nil
}

// deref converts the pointer used for decoding back to the value form that
// NewEvent produces, so decoded events compare and type-switch the same way.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *LogPayload:
		return *v
	case *ThoughtPayload:
		return *v
	case *PlanPayload:
		return *v
	case *MilestonePayload:
		return *v
	case *TaskPayload:
		return *v
	case *ArtifactPayload:
		return *v
	case *ErrorPayload:
		return *v
	case *DonePayload:
		return *v
	case *InfoPayload:
		return *v
	default:
		return p
	}
}
