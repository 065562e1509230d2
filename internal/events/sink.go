package events

import (
	"context"
	"fmt"
	"log"
	"os"
)

// LogSink writes events to the process log. It is the fallback sink when
// no durable collaborator is configured and never returns an error.
type LogSink struct{}

// RecordEvent logs the event locally.
func (LogSink) RecordEvent(_ context.Context, event *Event) error {
	log.Printf("[%s] %s component=%s issue=%s", event.Kind, event.Message, event.Component, event.IssueID)
	return nil
}

// MultiSink fans events out to several sinks. A failing sink is logged
// and skipped; recording failures never affect subsystem behavior.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink over the given sinks, ignoring nils.
func NewMultiSink(sinks ...Sink) *MultiSink {
	ms := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			ms.sinks = append(ms.sinks, s)
		}
	}
	return ms
}

// RecordEvent delivers the event to every sink.
func (ms *MultiSink) RecordEvent(ctx context.Context, event *Event) error {
	for _, s := range ms.sinks {
		if err := s.RecordEvent(ctx, event); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record %s event: %v\n", event.Kind, err)
		}
	}
	return nil
}
