// Package notify carries dictation events from the core to whoever is
// listening: the terminal UI, websocket clients and the desktop notifier.
package notify

import "time"

// Kind names an event type. The values are part of the websocket protocol.
type Kind string

const (
	KindLevel            Kind = "level"
	KindCapReached       Kind = "cap-reached"
	KindStageStart       Kind = "stage-start"
	KindStageEnd         Kind = "stage-end"
	KindError            Kind = "error"
	KindRecordingStarted Kind = "recording-started"
	KindRecordingStopped Kind = "recording-stopped"
	KindTranscript       Kind = "transcript"
)

// Pipeline stage names carried by stage events.
const (
	StageTranscribe = "transcribe"
	StageDictionary = "dictionary"
	StageLLM        = "llm"
	StageFormat     = "format"
	StagePersist    = "persist"
)

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	// Recording is the id of the recording the event belongs to.
	Recording string `json:"recording,omitempty"`

	Stage    string        `json:"stage,omitempty"`
	Level    float32       `json:"level,omitempty"`
	Text     string        `json:"text,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Emitter accepts events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to [Emitter].
type EmitterFunc func(Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Level builds a level event.
func Level(l float32) Event { return Event{Kind: KindLevel, Level: l} }

// StageStart builds a stage-start event.
func StageStart(recording, stage string) Event {
	return Event{Kind: KindStageStart, Recording: recording, Stage: stage}
}

// StageEnd builds a stage-end event.
func StageEnd(recording, stage string, took time.Duration, err error) Event {
	e := Event{Kind: KindStageEnd, Recording: recording, Stage: stage, Duration: took}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Error builds an error event.
func Error(recording, stage string, err error) Event {
	return Event{Kind: KindError, Recording: recording, Stage: stage, Error: err.Error()}
}
