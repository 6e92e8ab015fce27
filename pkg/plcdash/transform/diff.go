package transform

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsarna/go-structdiff"
)

// DiffTransform replaces a payload holding "old" and "new" values with the
// structural difference between them. If the payload has other keys too,
// they are kept and the difference is added as "delta". Other payloads pass
// through unchanged.
func DiffTransform(ctx context.Context, payload any, fields map[string]string) any {
	payloadMap, ok := payload.(map[string]any)
	if !ok {
		return payload
	}

	oldValue, hasOld := payloadMap["old"]
	newValue, hasNew := payloadMap["new"]
	if !hasOld || !hasNew {
		return payload
	}

	diff, err := structdiff.Diff(oldValue, newValue)
	if err != nil {
		return payload
	}

	if len(payloadMap) == 2 {
		return diff
	}

	out := make(map[string]any, len(payloadMap)-1)
	for key, value := range payloadMap {
		if key != "old" && key != "new" {
			out[key] = value
		}
	}
	out["delta"] = diff

	return out
}

// ChangeTracker reduces a stream of object payloads, such as PLC readings,
// to what changed since the previous payload with the same key. The first
// payload for a key passes through whole. Later ones become
// {keyField: key, "delta": {...}}, and are dropped when nothing but ignored
// fields changed.
type ChangeTracker struct {
	keyField string
	ignored  map[string]bool

	mu   sync.Mutex
	last map[string]map[string]any
}

// NewChangeTracker tracks payloads by the value of keyField, for example
// "equipment_id". Payloads without it are tracked by event name. Fields
// listed in ignore, such as "timestamp", never count as changes.
func NewChangeTracker(keyField string, ignore ...string) *ChangeTracker {
	ignored := make(map[string]bool, len(ignore))
	for _, field := range ignore {
		ignored[field] = true
	}

	return &ChangeTracker{
		keyField: keyField,
		ignored:  ignored,
		last:     make(map[string]map[string]any),
	}
}

// Transform is an EventTransformFunc.
func (c *ChangeTracker) Transform(ev *Event) (*Event, bool) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return ev, true
	}

	key := ev.Name
	if v, ok := payload[c.keyField]; ok && v != nil {
		key = fmt.Sprint(v)
	}

	current := make(map[string]any, len(payload))
	for field, value := range payload {
		if !c.ignored[field] {
			current[field] = value
		}
	}

	c.mu.Lock()
	previous, seen := c.last[key]
	c.last[key] = current
	c.mu.Unlock()

	if !seen {
		return ev, true
	}

	diff, err := structdiff.Diff(previous, current)
	if err != nil {
		return ev, true
	}
	if changes, ok := any(diff).(map[string]any); ok && len(changes) == 0 {
		return nil, false
	}

	return &Event{
		Ctx:  ev.Ctx,
		Name: ev.Name,
		Payload: map[string]any{
			c.keyField: key,
			"delta":    diff,
		},
	}, true
}

// Reset forgets every tracked payload.
func (c *ChangeTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]map[string]any)
}
