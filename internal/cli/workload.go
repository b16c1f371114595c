package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/objheap"
)

const (
	cacheSlots       = 8
	snapshotEvery    = 4
	reloadEvery      = 4
	pressureWarnTick = 3
)

// Workload is the demo runtime behind `serve`: every step it handles a fake
// request, allocating on the managed heap, and reports through the console.
type Workload struct {
	heap      *objheap.Heap
	session   *inspector.Session
	host      zerolog.Logger
	fullEvery int

	tick    int
	cache   *objheap.Object
	handler *objheap.Object
}

// NewWorkload roots a request cache on h. Lines logged through host should
// reach the session console; see logging.ConsoleHook.
func NewWorkload(h *objheap.Heap, session *inspector.Session, host zerolog.Logger, fullEvery int) *Workload {
	if fullEvery <= 0 {
		fullEvery = 1
	}
	cache := h.Allocate("RequestCache", 64)
	handler := h.AllocateFunction("handleRequest", &protocol.Location{ScriptID: "1", LineNumber: 42, ColumnNumber: 3})
	h.SetField(cache, "handler", handler)
	h.AddRoot("cache", cache)

	return &Workload{
		heap:      h,
		session:   session,
		host:      host,
		fullEvery: fullEvery,
		cache:     cache,
		handler:   handler,
	}
}

// Run steps the workload every interval until ctx is done.
func (w *Workload) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Step()
		}
	}
}

// Step handles one request and runs one collection. Every fullEvery-th
// collection is full, the rest are eden. Snapshots and reloads follow at
// multiples of that period.
func (w *Workload) Step() objheap.CollectStats {
	w.tick++
	console := w.session.Console()
	console.StartTiming("request")

	path := fmt.Sprintf("/items/%d", w.tick)
	req := w.heap.Allocate("Request", 128)
	w.heap.SetField(req, "path", w.heap.AllocateValue("String", 32, path))
	w.heap.SetField(req, "handler", w.handler)
	body := w.heap.Allocate("Array", 0)
	for i := 0; i < w.tick%5+1; i++ {
		w.heap.Push(body, w.heap.AllocateValue("Number", 8, float64(i)))
	}
	w.heap.SetField(req, "body", body)

	// Temporary garbage that never outlives the step.
	for i := 0; i < 3; i++ {
		w.heap.Allocate("Buffer", 256)
	}

	// Replacing a slot drops the request cached there.
	w.heap.SetField(w.cache, fmt.Sprintf("slot%d", w.tick%cacheSlots), req)

	n := console.Count("requests")
	w.host.Info().Str("path", path).Msg(fmt.Sprintf("handled GET %s (#%d)", path, n))
	if w.tick%pressureWarnTick == 0 {
		w.host.Warn().Msg("request cache under pressure")
	}

	scope := heap.ScopeEden
	if w.tick%w.fullEvery == 0 {
		scope = heap.ScopeFull
	}
	stats := w.heap.Collect(scope)
	console.StopTiming("request")

	if w.tick%(w.fullEvery*snapshotEvery) == 0 {
		w.session.TakeHeapSnapshot(fmt.Sprintf("after request %d", w.tick))
	}

	// A reload starts the console over, as a page navigation would.
	if w.tick%(w.fullEvery*snapshotEvery*reloadEvery) == 0 {
		w.session.Navigated()
		w.host.Info().Msg(fmt.Sprintf("reloaded after %d requests", w.tick))
	}
	return stats
}
