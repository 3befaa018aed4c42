package metrics

import "time"

// Event is one relay observation: session lifecycle, upstream traffic,
// action execution. Tags identify the stream, Fields carry values.
type Event struct {
	Name   string
	Time   time.Time
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev Event)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}
