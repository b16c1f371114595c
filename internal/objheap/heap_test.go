package objheap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/testutil"
)

type scopeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *scopeRecorder) WillGarbageCollect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "will")
}

func (r *scopeRecorder) DidGarbageCollect(scope heap.CollectionScope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "did:"+scope.String())
}

func TestCollect_FullFreesUnreachable(t *testing.T) {
	h := New(testutil.NewTestLogger(t))

	root := h.Allocate("Window", 64)
	doc := h.Allocate("Document", 128)
	h.SetField(root, "document", doc)
	h.AddRoot("window", root)

	a := h.Allocate("Node", 8)
	b := h.Allocate("Node", 8)
	h.SetField(a, "next", b)
	h.SetField(b, "next", a)

	stats := h.Collect(heap.ScopeFull)
	assert.Equal(t, 2, stats.Freed)

	assert.True(t, h.IsLive(root.Tag()))
	assert.True(t, h.IsLive(doc.Tag()))
	assert.False(t, h.IsLive(a.Tag()))
	assert.False(t, h.IsLive(b.Tag()))

	n, size := h.Live()
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(192), size)
}

func TestCollect_EdenKeepsOldObjects(t *testing.T) {
	h := New(testutil.NewTestLogger(t))

	old := h.Allocate("Cache", 32)
	h.AddRoot("cache", old)
	h.Collect(heap.ScopeFull)
	h.RemoveRoot("cache")

	young := h.Allocate("Temp", 16)

	stats := h.Collect(heap.ScopeEden)
	assert.Equal(t, 1, stats.Freed)
	assert.Equal(t, uint64(16), stats.FreedBytes)
	assert.True(t, h.IsLive(old.Tag()))
	assert.False(t, h.IsLive(young.Tag()))

	stats = h.Collect(heap.ScopeFull)
	assert.Equal(t, 1, stats.Freed)
	assert.False(t, h.IsLive(old.Tag()))
	assert.Equal(t, 0, stats.Live)
}

func TestCollect_ElementsAndFieldRemoval(t *testing.T) {
	h := New(testutil.NewTestLogger(t))

	list := h.Allocate("Array", 0)
	h.AddRoot("list", list)
	var items []*Object
	for i := 0; i < 3; i++ {
		item := h.AllocateValue("String", 0, fmt.Sprintf("item-%d", i))
		h.Push(list, item)
		items = append(items, item)
	}
	extra := h.Allocate("Extra", 0)
	h.SetField(list, "extra", extra)

	h.Truncate(list, 1)
	h.SetField(list, "extra", nil)
	h.CollectGarbage()

	assert.True(t, h.IsLive(items[0].Tag()))
	assert.False(t, h.IsLive(items[1].Tag()))
	assert.False(t, h.IsLive(items[2].Tag()))
	assert.False(t, h.IsLive(extra.Tag()))
}

func TestCollect_NotifiesObservers(t *testing.T) {
	h := New(testutil.NewTestLogger(t))
	rec := &scopeRecorder{}
	h.AddObserver(rec)

	h.Collect(heap.ScopeEden)
	h.CollectGarbage()
	h.RemoveObserver(rec)
	h.CollectGarbage()

	assert.Equal(t, []string{"will", "did:eden", "will", "did:full"}, rec.calls)
}

func TestCaptureHeap(t *testing.T) {
	h := New(testutil.NewTestLogger(t))

	root := h.Allocate("Window", 64)
	h.AddRoot("window", root)
	child := h.Allocate("Document", 0)
	h.SetField(root, "document", child)
	h.Push(root, child)

	nodes := h.CaptureHeap()
	require.Len(t, nodes, 2)

	assert.Equal(t, root.Tag(), nodes[0].Tag)
	assert.True(t, nodes[0].Root)
	assert.Equal(t, []heap.RawEdge{
		{To: child.Tag(), Kind: heap.EdgeProperty, Name: "document"},
		{To: child.Tag(), Kind: heap.EdgeIndex, Name: "0"},
	}, nodes[0].Edges)

	assert.Equal(t, "Document", nodes[1].ClassName)
	assert.Equal(t, uint64(defaultObjectSize), nodes[1].Size)
	assert.False(t, nodes[1].Root)
}

func TestDescribe(t *testing.T) {
	h := New(testutil.NewTestLogger(t))

	fn := h.AllocateFunction("onload", &protocol.Location{ScriptID: "3", LineNumber: 4})
	str := h.AllocateValue("String", 0, "hello")
	num := h.AllocateValue("Number", 0, 42)
	obj := h.Allocate("Config", 0)
	for i := 0; i < previewFieldLimit+1; i++ {
		h.SetField(obj, fmt.Sprintf("f%d", i), str)
	}

	d, ok := h.Describe(fn.Tag())
	require.True(t, ok)
	assert.Equal(t, "function", d.Type)
	require.NotNil(t, d.Function)
	assert.Equal(t, "onload", d.Function.Name)

	d, ok = h.Describe(str.Tag())
	require.True(t, ok)
	assert.Equal(t, "string", d.Type)
	assert.Equal(t, "hello", d.Value)

	d, ok = h.Describe(num.Tag())
	require.True(t, ok)
	assert.Equal(t, "number", d.Type)

	d, ok = h.Describe(obj.Tag())
	require.True(t, ok)
	assert.Equal(t, "object", d.Type)
	assert.True(t, d.Overflow)
	assert.Len(t, d.Properties, previewFieldLimit)
	assert.Equal(t, protocol.PropertyPreview{Name: "f0", Type: "string", Value: "hello"}, d.Properties[0])

	h.CollectGarbage()
	_, ok = h.Describe(obj.Tag())
	assert.False(t, ok)
}

func TestTagsNeverReused(t *testing.T) {
	h := New(testutil.NewTestLogger(t))

	first := h.Allocate("A", 0)
	h.CollectGarbage()
	second := h.Allocate("A", 0)

	assert.Greater(t, second.Tag(), first.Tag())
}
