// Package heap implements the heap channel of an inspector session: GC pause
// observation, snapshot capture and retention, and resolution of heap object
// identifiers for remote inspection.
package heap

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/clock"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/safe"
)

// Config configures a heap Channel.
type Config struct {
	// MaxSnapshots bounds the number of retained snapshots. Zero keeps every
	// snapshot taken since the last clear.
	MaxSnapshots int
}

// Preview is the result of resolving an identifier for a shallow preview.
type Preview struct {
	ClassName       string                    `json:"className"`
	FunctionDetails *protocol.FunctionDetails `json:"functionDetails,omitempty"`
	Preview         *protocol.ObjectPreview   `json:"preview,omitempty"`
}

type remoteHandle struct {
	id         HeapObjectID
	group      string
	generation uint64
}

// Channel is the heap channel.
type Channel struct {
	logger  zerolog.Logger
	clock   clock.Clock
	runtime Runtime

	mu           sync.Mutex
	frontend     protocol.FrontendChannel
	enabled      bool
	tracking     bool
	gcStart      float64
	snapshots    []*Snapshot
	seq          uint64
	maxSnapshots int
	idAlloc      clock.IDAllocator
	ids          *identifierIndex
	handles      map[string]remoteHandle
	generation   uint64
}

// NewChannel creates a disabled heap channel over rt.
func NewChannel(cfg Config, rt Runtime, clk clock.Clock, logger zerolog.Logger) *Channel {
	c := &Channel{
		logger:       logger.With().Str("component", "heap-channel").Logger(),
		clock:        clk,
		runtime:      rt,
		gcStart:      math.NaN(),
		maxSnapshots: cfg.MaxSnapshots,
		handles:      make(map[string]remoteHandle),
	}
	c.ids = newIdentifierIndex(&c.idAlloc)
	return c
}

// Attach connects an observer.
func (c *Channel) Attach(frontend protocol.FrontendChannel) {
	c.mu.Lock()
	c.frontend = frontend
	c.mu.Unlock()
}

// Detach disconnects the observer and disables the channel. Every snapshot,
// identifier and remote object handle is discarded.
func (c *Channel) Detach() {
	c.mu.Lock()
	c.frontend = nil
	c.disableLocked()
	c.mu.Unlock()
}

// Enable subscribes to GC notifications. Enabling twice has no effect.
func (c *Channel) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled {
		return
	}
	c.enabled = true
	c.gcStart = math.NaN()
	c.runtime.AddObserver(c)
	c.logger.Debug().Msg("Heap enabled")
}

// Disable unsubscribes from GC notifications, stops tracking and discards
// every snapshot and handle. No event is emitted after it returns.
func (c *Channel) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disableLocked()
}

func (c *Channel) disableLocked() {
	if c.enabled {
		c.runtime.RemoveObserver(c)
		c.logger.Debug().Msg("Heap disabled")
	}
	c.enabled = false
	c.tracking = false
	c.gcStart = math.NaN()
	c.clearSnapshotsLocked()
}

// Enabled reports whether the channel is enabled.
func (c *Channel) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Tracking reports whether GC events are forwarded to the observer.
func (c *Channel) Tracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracking
}

// GC forces a full collection and returns once it has completed.
func (c *Channel) GC(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.runtime.CollectGarbage()
	return nil
}

// Capture takes a new snapshot and retains it. A snapshot whose capture
// overlapped a clear is returned but not retained, and its identifiers do
// not resolve.
func (c *Channel) Capture() *Snapshot {
	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	// The runtime serializes captures with collections; its lock is always
	// taken before ours.
	raw := c.runtime.CaptureHeap()
	timestamp := clock.Seconds(c.clock.Now())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if c.generation != generation {
		c.logger.Debug().Uint64("seq", c.seq).Msg("Heap snapshot discarded by a concurrent clear")
		return buildSnapshot(c.seq, timestamp, raw, newIdentifierIndex(&c.idAlloc))
	}
	snap := buildSnapshot(c.seq, timestamp, raw, c.ids)
	c.snapshots = append(c.snapshots, snap)
	if c.maxSnapshots > 0 && len(c.snapshots) > c.maxSnapshots {
		c.snapshots = append([]*Snapshot(nil), c.snapshots[len(c.snapshots)-c.maxSnapshots:]...)
	}

	c.logger.Debug().
		Uint64("seq", snap.Seq).
		Int("nodes", len(snap.Nodes)).
		Uint64("total_size", snap.TotalSize()).
		Msg("Heap snapshot captured")
	return snap
}

// Snapshot takes a new snapshot and returns its capture time and serialized
// graph.
func (c *Channel) Snapshot() (float64, protocol.HeapSnapshotData, error) {
	snap := c.Capture()
	data, err := Encode(snap)
	if err != nil {
		return 0, "", err
	}
	return snap.Timestamp, data, nil
}

// Snapshots returns the number of retained snapshots.
func (c *Channel) Snapshots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

// ClearSnapshots discards every snapshot, identifier and handle.
func (c *Channel) ClearSnapshots() {
	c.mu.Lock()
	c.clearSnapshotsLocked()
	c.mu.Unlock()
}

func (c *Channel) clearSnapshotsLocked() {
	c.snapshots = nil
	c.ids.reset()
	c.handles = make(map[string]remoteHandle)
	c.generation++
}

// StartTracking begins forwarding GC events and emits a baseline snapshot.
// It fails with a StateError while the channel is disabled.
func (c *Channel) StartTracking() error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return protocol.StateErrorf("Heap domain must be enabled before tracking")
	}
	if c.tracking {
		c.mu.Unlock()
		return nil
	}
	c.tracking = true
	c.mu.Unlock()

	c.logger.Debug().Msg("Heap tracking started")
	c.emitTrackingSnapshot(func(ts float64, data protocol.HeapSnapshotData) protocol.Event {
		return protocol.TrackingStart{Timestamp: ts, SnapshotData: data}
	}, true)
	return nil
}

// StopTracking stops forwarding GC events and emits a closing snapshot.
// It fails with a StateError while the channel is disabled.
func (c *Channel) StopTracking() error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return protocol.StateErrorf("Heap domain must be enabled before tracking")
	}
	if !c.tracking {
		c.mu.Unlock()
		return nil
	}
	c.tracking = false
	c.mu.Unlock()

	c.logger.Debug().Msg("Heap tracking stopped")
	c.emitTrackingSnapshot(func(ts float64, data protocol.HeapSnapshotData) protocol.Event {
		return protocol.TrackingComplete{Timestamp: ts, SnapshotData: data}
	}, false)
	return nil
}

func (c *Channel) emitTrackingSnapshot(build func(float64, protocol.HeapSnapshotData) protocol.Event, wantTracking bool) {
	ts, data, err := c.Snapshot()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Tracking snapshot failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frontend == nil || !c.enabled || c.tracking != wantTracking {
		return
	}
	c.frontend.SendEvent(build(ts, data))
}

// WillGarbageCollect records the start of a collection.
func (c *Channel) WillGarbageCollect() {
	now := clock.Seconds(c.clock.Now())

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.gcStart = now
}

// DidGarbageCollect reports a finished collection to the observer while
// tracking. A collection whose start was not observed is reported with a NaN
// start time.
func (c *Channel) DidGarbageCollect(scope CollectionScope) {
	end := clock.Seconds(c.clock.Now())

	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.gcStart
	c.gcStart = math.NaN()
	if !c.enabled || !c.tracking || c.frontend == nil {
		return
	}
	c.frontend.SendEvent(protocol.GarbageCollected{Collection: protocol.GarbageCollection{
		Type:      collectionType(scope),
		StartTime: start,
		EndTime:   end,
	}})
}

// GetPreview resolves id against the latest snapshot and describes it.
func (c *Channel) GetPreview(id HeapObjectID) (Preview, error) {
	node, generation, err := c.resolve(id)
	if err != nil {
		return Preview{}, err
	}
	desc, err := c.describe(id, node)
	if err != nil {
		return Preview{}, err
	}

	c.mu.Lock()
	discarded := c.generation != generation
	c.mu.Unlock()
	if discarded {
		return Preview{}, protocol.LookupErrorf("heap object %d was discarded", id)
	}

	p := Preview{ClassName: desc.ClassName, FunctionDetails: desc.Function}
	if desc.Function == nil {
		p.Preview = objectPreview(desc)
	}
	return p, nil
}

// GetRemoteObject resolves id against the latest snapshot and hands out a
// remote object handle tagged with group.
func (c *Channel) GetRemoteObject(id HeapObjectID, group string) (protocol.RemoteObject, error) {
	node, generation, err := c.resolve(id)
	if err != nil {
		return protocol.RemoteObject{}, err
	}
	desc, err := c.describe(id, node)
	if err != nil {
		return protocol.RemoteObject{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return protocol.RemoteObject{}, protocol.LookupErrorf("heap object %d was discarded", id)
	}

	objectID := uuid.New().String()
	c.handles[objectID] = remoteHandle{id: id, group: group, generation: generation}
	size, _ := safe.Uint64ToInt32(node.Size)

	obj := protocol.RemoteObject{
		Type:        desc.Type,
		Subtype:     desc.Subtype,
		ClassName:   desc.ClassName,
		Value:       desc.Value,
		Description: desc.Description,
		ObjectID:    objectID,
		Size:        int(size),
	}
	if obj.Type == "" {
		obj.Type = "object"
	}
	if obj.Type == "object" {
		obj.Preview = objectPreview(desc)
	}
	return obj, nil
}

// ResolveObject returns the heap identifier behind a remote object handle.
func (c *Channel) ResolveObject(objectID string) (HeapObjectID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[objectID]
	if !ok || h.generation != c.generation {
		return 0, false
	}
	return h.id, true
}

// ReleaseObjectGroup drops every remote object handle created with group and
// returns how many were released.
func (c *Channel) ReleaseObjectGroup(group string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	released := 0
	for objectID, h := range c.handles {
		if h.group == group {
			delete(c.handles, objectID)
			released++
		}
	}
	return released
}

func (c *Channel) resolve(id HeapObjectID) (Node, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.snapshots) == 0 {
		return Node{}, 0, protocol.LookupErrorf("no heap snapshot has been taken")
	}
	node, ok := c.snapshots[len(c.snapshots)-1].Node(id)
	if !ok {
		return Node{}, 0, protocol.LookupErrorf("no heap object with identifier %d", id)
	}
	return node, c.generation, nil
}

// describe asks the runtime about a resolved node. It runs without the channel
// lock held.
func (c *Channel) describe(id HeapObjectID, node Node) (ObjectDescription, error) {
	desc, ok := c.runtime.Describe(node.Tag)
	if !ok {
		return ObjectDescription{}, protocol.LookupErrorf("heap object %d has been garbage collected", id)
	}
	if desc.ClassName == "" {
		desc.ClassName = node.ClassName
	}
	return desc, nil
}

func objectPreview(desc ObjectDescription) *protocol.ObjectPreview {
	t := desc.Type
	if t == "" {
		t = "object"
	}
	return &protocol.ObjectPreview{
		Type:        t,
		Subtype:     desc.Subtype,
		Description: desc.Description,
		Lossless:    !desc.Overflow,
		Overflow:    desc.Overflow,
		Properties:  append([]protocol.PropertyPreview(nil), desc.Properties...),
	}
}
