// Package events implements the broadcast SystemEvent bus. Every tick
// system that needs to notify external observers (telemetry, the
// analytics batcher, a future UI) publishes onto the Bus; subscribers
// only see events published after they subscribe (no replay), and a
// subscriber whose buffer is full loses its oldest buffered event, so
// delivery is best-effort.
package events

import (
	"sync"
	"time"
)

// Kind discriminates a SystemEvent's payload shape.
type Kind string

const (
	KindLog              Kind = "log"
	KindNodeTelemetry     Kind = "node_telemetry"
	KindNodeError         Kind = "node_error"
	KindAgentActivity     Kind = "agent_activity"
	KindCheckpointCreated Kind = "checkpoint_created"
	KindEdgeTraversal     Kind = "edge_traversal"
	KindWorkflowUpdate    Kind = "workflow_update"
)

// Event is a single published SystemEvent.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	NodeUUID  string
	TraceID   string
	Details   map[string]any
}

// Bus is a fan-out broadcaster of Events. It is safe for concurrent
// Publish/Subscribe/Unsubscribe calls from multiple goroutines.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is buffered; a slow subscriber that
// fills its buffer has the oldest-dropped event silently discarded
// rather than blocking publishers — publishers must never stall on a
// single slow consumer.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}

	return ch, unsubscribe
}

// Publish fans an event out to every current subscriber.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Drop oldest to make room rather than block the tick loop.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Log publishes a KindLog event with a free-form message.
func (b *Bus) Log(message string, fields map[string]any) {
	b.Publish(Event{Kind: KindLog, Details: mergeField(fields, "message", message)})
}

// NodeTelemetry publishes a KindNodeTelemetry event for a node.
func (b *Bus) NodeTelemetry(nodeUUID, traceID string, details map[string]any) {
	b.Publish(Event{Kind: KindNodeTelemetry, NodeUUID: nodeUUID, TraceID: traceID, Details: details})
}

// NodeError publishes a KindNodeError event for a node.
func (b *Bus) NodeError(nodeUUID, traceID string, err error) {
	b.Publish(Event{Kind: KindNodeError, NodeUUID: nodeUUID, TraceID: traceID, Details: map[string]any{"error": err.Error()}})
}

// EdgeTraversal publishes a KindEdgeTraversal event.
func (b *Bus) EdgeTraversal(sourceUUID, targetUUID string) {
	b.Publish(Event{Kind: KindEdgeTraversal, Details: map[string]any{
		"source_id": sourceUUID,
		"target_id": targetUUID,
	}})
}

// CheckpointCreated publishes a KindCheckpointCreated event.
func (b *Bus) CheckpointCreated(token, nodeUUID, traceID string) {
	b.Publish(Event{Kind: KindCheckpointCreated, NodeUUID: nodeUUID, TraceID: traceID, Details: map[string]any{"token": token}})
}

func mergeField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
