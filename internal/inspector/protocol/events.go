package protocol

import (
	"encoding/json"
	"math"
)

// Event is a notification sent from the session to the observer.
type Event interface {
	// Method is the wire name of the event, e.g. "Console.messageAdded".
	Method() string
}

// FrontendChannel delivers events to an attached observer. SendEvent must
// not block: a slow observer may lose events, the producer never waits.
type FrontendChannel interface {
	SendEvent(Event)
}

// MessageAdded is emitted for each console message while the console is
// enabled.
type MessageAdded struct {
	Message ConsoleMessage `json:"message"`
}

func (MessageAdded) Method() string { return "Console.messageAdded" }

// MessageRepeatCountUpdated is emitted when the last message was repeated.
type MessageRepeatCountUpdated struct {
	Count     int     `json:"count"`
	Timestamp float64 `json:"timestamp"`
}

func (MessageRepeatCountUpdated) Method() string { return "Console.messageRepeatCountUpdated" }

// MessagesCleared is emitted when the console buffer was emptied.
type MessagesCleared struct {
	Reason ClearReason `json:"reason"`
}

func (MessagesCleared) Method() string { return "Console.messagesCleared" }

// HeapSnapshotTaken is emitted by the console when the runtime asked for a
// labelled heap snapshot.
type HeapSnapshotTaken struct {
	Timestamp    float64          `json:"timestamp"`
	SnapshotData HeapSnapshotData `json:"snapshotData"`
	Title        string           `json:"title,omitempty"`
}

func (HeapSnapshotTaken) Method() string { return "Console.heapSnapshot" }

// GarbageCollection describes one collection. StartTime is NaN when the start
// of the collection was not observed.
type GarbageCollection struct {
	Type      CollectionType
	StartTime float64
	EndTime   float64
}

// StartKnown reports whether the start of the collection was observed.
func (g GarbageCollection) StartKnown() bool {
	return !math.IsNaN(g.StartTime)
}

type garbageCollectionJSON struct {
	Type      CollectionType `json:"type"`
	StartTime *float64       `json:"startTime"`
	EndTime   float64        `json:"endTime"`
}

// MarshalJSON encodes an unobserved start time as null.
func (g GarbageCollection) MarshalJSON() ([]byte, error) {
	out := garbageCollectionJSON{Type: g.Type, EndTime: g.EndTime}
	if g.StartKnown() {
		start := g.StartTime
		out.StartTime = &start
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null start time as NaN.
func (g *GarbageCollection) UnmarshalJSON(data []byte) error {
	var in garbageCollectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	g.Type = in.Type
	g.EndTime = in.EndTime
	g.StartTime = math.NaN()
	if in.StartTime != nil {
		g.StartTime = *in.StartTime
	}
	return nil
}

// GarbageCollected is emitted after each collection while heap tracking is on.
type GarbageCollected struct {
	Collection GarbageCollection `json:"collection"`
}

func (GarbageCollected) Method() string { return "Heap.garbageCollected" }

// TrackingStart is emitted when heap tracking begins.
type TrackingStart struct {
	Timestamp    float64          `json:"timestamp"`
	SnapshotData HeapSnapshotData `json:"snapshotData"`
}

func (TrackingStart) Method() string { return "Heap.trackingStart" }

// TrackingComplete is emitted when heap tracking ends.
type TrackingComplete struct {
	Timestamp    float64          `json:"timestamp"`
	SnapshotData HeapSnapshotData `json:"snapshotData"`
}

func (TrackingComplete) Method() string { return "Heap.trackingComplete" }
