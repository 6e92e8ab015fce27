package transform

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
)

// Event is a Socket.IO event as received by the client. Payload is the
// first argument when the event carried exactly one, otherwise the whole
// argument list.
type Event struct {
	Ctx     context.Context
	Name    string
	Payload any
}

// NewEvent builds an Event from the arguments a handler received.
func NewEvent(ctx context.Context, name string, args []any) *Event {
	var payload any
	switch len(args) {
	case 0:
	case 1:
		payload = args[0]
	default:
		payload = args
	}

	return &Event{Ctx: ctx, Name: name, Payload: payload}
}

// EventTransformFunc transforms a received event before it is printed or
// forwarded.
//
// Returning nil drops the event and no further transforms in a chain are
// called. Returning false for the continue flag also stops the chain, but
// keeps the event.
type EventTransformFunc func(ev *Event) (*Event, bool)

// SimpleEventTransformFunc transforms only the payload. fields holds the
// values captured by a named pattern wildcard, and is empty otherwise.
type SimpleEventTransformFunc func(ctx context.Context, payload any, fields map[string]string) any

// DropEventPattern drops events whose names match an MQTT-style pattern,
// such as "plc/+/error" or "debug/#".
func DropEventPattern(pattern string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if mqttpattern.Matches(pattern, ev.Name) {
			return nil, false
		}
		return ev, true
	}
}

// DropEventPrefix drops events whose names start with prefix.
func DropEventPrefix(prefix string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if strings.HasPrefix(ev.Name, prefix) {
			return nil, false
		}
		return ev, true
	}
}

// KeepEventPatterns drops every event whose name matches none of the
// patterns. With no patterns every event is kept.
func KeepEventPatterns(patterns ...string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if len(patterns) == 0 {
			return ev, true
		}
		for _, pattern := range patterns {
			if mqttpattern.Matches(pattern, ev.Name) {
				return ev, true
			}
		}
		return nil, false
	}
}

// RateLimitByEvent lets through at most one event per name per
// minInterval.
func RateLimitByEvent(minInterval time.Duration) EventTransformFunc {
	var mu sync.Mutex
	lastSent := make(map[string]time.Time)

	return func(ev *Event) (*Event, bool) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if last, exists := lastSent[ev.Name]; exists && now.Sub(last) < minInterval {
			return nil, false
		}
		lastSent[ev.Name] = now
		return ev, true
	}
}

// ChainTransforms combines several transforms into one.
//
//	quiet := ChainTransforms(
//	    DropEventPrefix("debug/"),
//	    RateLimitByEvent(time.Second),
//	)
func ChainTransforms(transforms ...EventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		current := ev
		for _, transform := range transforms {
			transformed, continueProcessing := transform(current)
			current = transformed

			if current == nil || !continueProcessing {
				return current, continueProcessing
			}
		}
		return current, true
	}
}

// ApplyTransforms runs transforms over one event and returns the result, or
// nil if it was dropped.
func ApplyTransforms(ctx context.Context, name string, payload any, transforms []EventTransformFunc) *Event {
	ev := &Event{Ctx: ctx, Name: name, Payload: payload}
	result, _ := ChainTransforms(transforms...)(ev)
	return result
}

// TransformOnPattern applies transform to the payload of events matching
// pattern. Named wildcards in the pattern are extracted into fields:
//
//	TransformOnPattern("plc/+equipment/reading", func(ctx context.Context, payload any, fields map[string]string) any {
//	    return map[string]any{"equipment": fields["equipment"], "reading": payload}
//	})
//
// If transform returns nil the event is dropped. Events that do not match
// pass through unchanged.
func TransformOnPattern(pattern string, transform SimpleEventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if !mqttpattern.Matches(pattern, ev.Name) {
			return ev, true
		}

		payload := transform(ev.Ctx, ev.Payload, mqttpattern.Extract(pattern, ev.Name))
		if payload == nil {
			return nil, true
		}

		return &Event{Ctx: ev.Ctx, Name: ev.Name, Payload: payload}, true
	}
}

// IfPattern applies transform only to events matching pattern.
func IfPattern(pattern string, transform EventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if mqttpattern.Matches(pattern, ev.Name) {
			return transform(ev)
		}
		return ev, true
	}
}

// ModifyPayload applies transform to every event's payload. If transform
// returns nil the event is dropped.
func ModifyPayload(transform SimpleEventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		payload := transform(ev.Ctx, ev.Payload, make(map[string]string))
		if payload == nil {
			return nil, true
		}

		return &Event{Ctx: ev.Ctx, Name: ev.Name, Payload: payload}, true
	}
}
