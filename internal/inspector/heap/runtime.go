package heap

import (
	"sync"

	"github.com/coral-mesh/coral-inspector/internal/errors"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// ObjectTag is the producer's own stable identity for a heap object. Tags
// are never reused by the producer.
type ObjectTag uint64

// CollectionScope is the extent of a garbage collection.
type CollectionScope int

const (
	// ScopeEden collects only recently allocated objects.
	ScopeEden CollectionScope = iota
	// ScopeFull collects the whole heap.
	ScopeFull
)

// String returns the scope name.
func (s CollectionScope) String() string {
	switch s {
	case ScopeEden:
		return "eden"
	case ScopeFull:
		return "full"
	}
	errors.Unreachable("collection scope %d", int(s))
	return ""
}

// collectionType maps a collector scope onto the type reported to observers.
func collectionType(s CollectionScope) protocol.CollectionType {
	switch s {
	case ScopeEden:
		return protocol.CollectionPartial
	case ScopeFull:
		return protocol.CollectionFull
	}
	errors.Unreachable("collection scope %d", int(s))
	return ""
}

// EdgeKind classifies a reference between two heap objects.
type EdgeKind int

const (
	EdgeInternal EdgeKind = iota
	EdgeProperty
	EdgeIndex
	EdgeVariable
)

var edgeKinds = []EdgeKind{EdgeInternal, EdgeProperty, EdgeIndex, EdgeVariable}

// String returns the wire name of the edge kind.
func (k EdgeKind) String() string {
	switch k {
	case EdgeInternal:
		return "Internal"
	case EdgeProperty:
		return "Property"
	case EdgeIndex:
		return "Index"
	case EdgeVariable:
		return "Variable"
	}
	errors.Unreachable("edge kind %d", int(k))
	return ""
}

// RawEdge is a reference reported by the producer.
type RawEdge struct {
	To   ObjectTag
	Kind EdgeKind
	Name string
}

// RawNode is an object reported by the producer during a heap capture.
type RawNode struct {
	Tag       ObjectTag
	ClassName string
	Size      uint64
	Root      bool
	Edges     []RawEdge
}

// ObjectDescription is what the producer knows about a live object.
type ObjectDescription struct {
	ClassName   string
	Type        string
	Subtype     string
	Description string
	Value       any
	Function    *protocol.FunctionDetails
	Properties  []protocol.PropertyPreview
	Overflow    bool
}

// Observer is notified around every garbage collection.
type Observer interface {
	WillGarbageCollect()
	DidGarbageCollect(scope CollectionScope)
}

// Runtime is the collector and object graph the heap channel inspects.
type Runtime interface {
	// CollectGarbage runs a full collection and returns once it is complete.
	CollectGarbage()
	// CaptureHeap returns every live object. The capture must reflect a
	// single heap state; it must not interleave with a collection.
	CaptureHeap() []RawNode
	// Describe returns details for a live object. ok is false once the
	// object has been collected.
	Describe(tag ObjectTag) (desc ObjectDescription, ok bool)

	AddObserver(Observer)
	RemoveObserver(Observer)
}

// ObserverSet is a process-wide GC notification source. Producers embed it
// and call the Notify methods from their collector; both are infallible.
type ObserverSet struct {
	mu        sync.Mutex
	observers []Observer
}

// AddObserver registers o. Registering the same observer twice has no effect.
func (s *ObserverSet) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observers {
		if existing == o {
			return
		}
	}
	s.observers = append(s.observers, o)
}

// RemoveObserver unregisters o.
func (s *ObserverSet) RemoveObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered observers.
func (s *ObserverSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// NotifyWillCollect tells every observer a collection is starting.
func (s *ObserverSet) NotifyWillCollect() {
	for _, o := range s.snapshot() {
		o.WillGarbageCollect()
	}
}

// NotifyDidCollect tells every observer a collection finished.
func (s *ObserverSet) NotifyDidCollect(scope CollectionScope) {
	for _, o := range s.snapshot() {
		o.DidGarbageCollect(scope)
	}
}

// snapshot copies the observer list so callbacks run without the lock held.
func (s *ObserverSet) snapshot() []Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Observer(nil), s.observers...)
}
