// Package objheap is a small tracing heap of tagged objects. It is the
// runtime the inspector's heap channel observes in the demo server and SDK.
package objheap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/errors"
	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

const (
	defaultObjectSize = 16
	previewFieldLimit = 5
)

// Object is a heap-allocated value. Fields and elements are references to
// other objects; they are only modified through the owning Heap.
type Object struct {
	tag      heap.ObjectTag
	class    string
	size     uint64
	value    any
	function *protocol.FunctionDetails

	fieldNames []string
	fields     map[string]*Object
	elements   []*Object

	young  bool
	marked bool
}

// Tag returns the object's stable tag.
func (o *Object) Tag() heap.ObjectTag { return o.tag }

// ClassName returns the object's class.
func (o *Object) ClassName() string { return o.class }

// CollectStats summarizes one collection.
type CollectStats struct {
	Scope      heap.CollectionScope
	Freed      int
	FreedBytes uint64
	Live       int
}

// Heap is a mark/sweep heap. Allocation, mutation, collection and capture all
// run under a single lock, so a capture always reflects one heap state.
type Heap struct {
	heap.ObserverSet

	logger zerolog.Logger

	mu      sync.Mutex
	nextTag heap.ObjectTag
	objects map[heap.ObjectTag]*Object
	roots   map[string]*Object
}

// New creates an empty heap.
func New(logger zerolog.Logger) *Heap {
	return &Heap{
		logger:  logger.With().Str("component", "objheap").Logger(),
		objects: make(map[heap.ObjectTag]*Object),
		roots:   make(map[string]*Object),
	}
}

// Allocate creates a plain object of class with the given self size.
func (h *Heap) Allocate(class string, size uint64) *Object {
	return h.allocate(class, size, nil, nil)
}

// AllocateValue creates an object holding a primitive value.
func (h *Heap) AllocateValue(class string, size uint64, value any) *Object {
	return h.allocate(class, size, value, nil)
}

// AllocateFunction creates a function object.
func (h *Heap) AllocateFunction(name string, loc *protocol.Location) *Object {
	return h.allocate("Function", 0, nil, &protocol.FunctionDetails{Name: name, Location: loc})
}

func (h *Heap) allocate(class string, size uint64, value any, fn *protocol.FunctionDetails) *Object {
	if size == 0 {
		size = defaultObjectSize
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextTag++
	obj := &Object{
		tag:      h.nextTag,
		class:    class,
		size:     size,
		value:    value,
		function: fn,
		fields:   make(map[string]*Object),
		young:    true,
	}
	h.objects[obj.tag] = obj
	return obj
}

// SetField points obj.name at target. A nil target removes the field.
func (h *Heap) SetField(obj *Object, name string, target *Object) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if target == nil {
		if _, ok := obj.fields[name]; ok {
			delete(obj.fields, name)
			for i, n := range obj.fieldNames {
				if n == name {
					obj.fieldNames = append(obj.fieldNames[:i:i], obj.fieldNames[i+1:]...)
					break
				}
			}
		}
		return
	}
	if _, ok := obj.fields[name]; !ok {
		obj.fieldNames = append(obj.fieldNames, name)
	}
	obj.fields[name] = target
}

// Push appends target to obj's indexed elements.
func (h *Heap) Push(obj, target *Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj.elements = append(obj.elements, target)
}

// Truncate drops obj's indexed elements beyond n.
func (h *Heap) Truncate(obj *Object, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n < len(obj.elements) {
		clear(obj.elements[n:])
		obj.elements = obj.elements[:n]
	}
}

// AddRoot keeps obj alive under name, replacing any previous root of that name.
func (h *Heap) AddRoot(name string, obj *Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots[name] = obj
}

// RemoveRoot drops the root called name.
func (h *Heap) RemoveRoot(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.roots, name)
}

// Live returns the number of live objects and their total self size.
func (h *Heap) Live() (int, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var size uint64
	for _, o := range h.objects {
		size += o.size
	}
	return len(h.objects), size
}

// IsLive reports whether the object with tag has not been collected.
func (h *Heap) IsLive(tag heap.ObjectTag) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.objects[tag]
	return ok
}

// CollectGarbage runs a full collection.
func (h *Heap) CollectGarbage() {
	h.Collect(heap.ScopeFull)
}

// Collect runs a collection of the given scope. An eden collection only frees
// objects allocated since the previous collection; older objects are treated
// as live. Observers are notified before and after.
func (h *Heap) Collect(scope heap.CollectionScope) CollectStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.NotifyWillCollect()

	var stack []*Object
	push := func(o *Object) {
		if o != nil && !o.marked {
			o.marked = true
			stack = append(stack, o)
		}
	}

	for _, r := range h.roots {
		push(r)
	}
	switch scope {
	case heap.ScopeFull:
	case heap.ScopeEden:
		for _, o := range h.objects {
			if !o.young {
				push(o)
			}
		}
	default:
		errors.Unreachable("collection scope %d", int(scope))
	}

	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, name := range o.fieldNames {
			push(o.fields[name])
		}
		for _, e := range o.elements {
			push(e)
		}
	}

	stats := CollectStats{Scope: scope}
	for tag, o := range h.objects {
		if !o.marked {
			delete(h.objects, tag)
			stats.Freed++
			stats.FreedBytes += o.size
			continue
		}
		o.marked = false
		o.young = false
	}
	stats.Live = len(h.objects)

	h.NotifyDidCollect(scope)

	h.logger.Debug().
		Str("scope", scope.String()).
		Int("freed", stats.Freed).
		Uint64("freed_bytes", stats.FreedBytes).
		Int("live", stats.Live).
		Msg("Collection finished")
	return stats
}

// CaptureHeap reports every live object in tag order. Root objects carry the
// Root flag.
func (h *Heap) CaptureHeap() []heap.RawNode {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooted := make(map[heap.ObjectTag]bool, len(h.roots))
	for _, r := range h.roots {
		rooted[r.tag] = true
	}

	tags := make([]heap.ObjectTag, 0, len(h.objects))
	for tag := range h.objects {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	nodes := make([]heap.RawNode, 0, len(tags))
	for _, tag := range tags {
		o := h.objects[tag]
		n := heap.RawNode{
			Tag:       o.tag,
			ClassName: o.class,
			Size:      o.size,
			Root:      rooted[o.tag],
		}
		for _, name := range o.fieldNames {
			n.Edges = append(n.Edges, heap.RawEdge{To: o.fields[name].tag, Kind: heap.EdgeProperty, Name: name})
		}
		for i, e := range o.elements {
			if e != nil {
				n.Edges = append(n.Edges, heap.RawEdge{To: e.tag, Kind: heap.EdgeIndex, Name: fmt.Sprint(i)})
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// Describe reports what is known about a live object.
func (h *Heap) Describe(tag heap.ObjectTag) (heap.ObjectDescription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, ok := h.objects[tag]
	if !ok {
		return heap.ObjectDescription{}, false
	}

	desc := heap.ObjectDescription{
		ClassName: o.class,
		Type:      valueType(o),
		Value:     o.value,
	}
	switch {
	case o.function != nil:
		fn := *o.function
		desc.Function = &fn
		desc.Description = fmt.Sprintf("function %s()", fn.Name)
	case o.value != nil:
		desc.Description = fmt.Sprint(o.value)
	default:
		desc.Description = o.class
	}
	if len(o.elements) > 0 {
		desc.Subtype = "array"
		desc.Description = fmt.Sprintf("%s(%d)", o.class, len(o.elements))
	}

	for _, name := range o.fieldNames {
		if len(desc.Properties) == previewFieldLimit {
			desc.Overflow = true
			break
		}
		target := o.fields[name]
		desc.Properties = append(desc.Properties, protocol.PropertyPreview{
			Name:  name,
			Type:  valueType(target),
			Value: shortValue(target),
		})
	}
	return desc, true
}

func valueType(o *Object) string {
	if o.function != nil {
		return "function"
	}
	switch o.value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return "number"
	}
	return "object"
}

func shortValue(o *Object) string {
	if o.value != nil {
		return fmt.Sprint(o.value)
	}
	return o.class
}
