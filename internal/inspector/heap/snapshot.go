package heap

import (
	"github.com/coral-mesh/coral-inspector/internal/clock"
)

// HeapObjectID is the observer-visible identifier of a heap object. The same
// object keeps the same identifier across snapshots until the snapshots are
// cleared; cleared identifiers are never handed out again.
type HeapObjectID uint64

// Edge is a reference between two snapshot nodes.
type Edge struct {
	To   HeapObjectID
	Kind EdgeKind
	Name string
}

// Node is one object in a snapshot.
type Node struct {
	ID        HeapObjectID
	Tag       ObjectTag
	ClassName string
	Size      uint64
	Root      bool
	Edges     []Edge
}

// Snapshot is an immutable capture of the heap graph.
type Snapshot struct {
	Seq       uint64
	Timestamp float64
	Nodes     []Node

	byID map[HeapObjectID]int
}

// Node looks up a node by identifier.
func (s *Snapshot) Node(id HeapObjectID) (Node, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Node{}, false
	}
	return s.Nodes[i], true
}

// TotalSize sums the self size of every node.
func (s *Snapshot) TotalSize() uint64 {
	var total uint64
	for _, n := range s.Nodes {
		total += n.Size
	}
	return total
}

func (s *Snapshot) index() {
	s.byID = make(map[HeapObjectID]int, len(s.Nodes))
	for i, n := range s.Nodes {
		s.byID[n.ID] = i
	}
}

// identifierIndex maps producer tags to heap object identifiers.
type identifierIndex struct {
	alloc *clock.IDAllocator
	byTag map[ObjectTag]HeapObjectID
}

func newIdentifierIndex(alloc *clock.IDAllocator) *identifierIndex {
	return &identifierIndex{alloc: alloc, byTag: make(map[ObjectTag]HeapObjectID)}
}

func (ix *identifierIndex) idFor(tag ObjectTag) HeapObjectID {
	if id, ok := ix.byTag[tag]; ok {
		return id
	}
	id := HeapObjectID(ix.alloc.Next())
	ix.byTag[tag] = id
	return id
}

func (ix *identifierIndex) reset() {
	ix.byTag = make(map[ObjectTag]HeapObjectID)
}

// buildSnapshot converts a producer capture into a snapshot. Edges to objects
// missing from the capture are dropped.
func buildSnapshot(seq uint64, timestamp float64, raw []RawNode, ids *identifierIndex) *Snapshot {
	present := make(map[ObjectTag]bool, len(raw))
	for _, rn := range raw {
		present[rn.Tag] = true
	}

	snap := &Snapshot{
		Seq:       seq,
		Timestamp: timestamp,
		Nodes:     make([]Node, 0, len(raw)),
	}
	for _, rn := range raw {
		node := Node{
			ID:        ids.idFor(rn.Tag),
			Tag:       rn.Tag,
			ClassName: rn.ClassName,
			Size:      rn.Size,
			Root:      rn.Root,
		}
		for _, re := range rn.Edges {
			if !present[re.To] {
				continue
			}
			node.Edges = append(node.Edges, Edge{To: ids.idFor(re.To), Kind: re.Kind, Name: re.Name})
		}
		snap.Nodes = append(snap.Nodes, node)
	}
	snap.index()
	return snap
}
