package heap

import (
	"encoding/json"
	"fmt"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

const (
	graphVersion   = 2
	graphType      = "Inspector"
	nodeFieldCount = 4 // id, size, class name index, flags
	edgeFieldCount = 4 // from id, to id, edge type index, edge name index

	nodeFlagRoot = 1
)

// Graph is the wire form of a snapshot. Nodes and edges are flattened into
// integer tuples with string tables, which keeps large snapshots compact.
type Graph struct {
	Version        int      `json:"version"`
	Type           string   `json:"type"`
	SnapshotID     uint64   `json:"snapshotId"`
	Timestamp      float64  `json:"timestamp"`
	TotalSize      uint64   `json:"totalSize"`
	Nodes          []uint64 `json:"nodes"`
	NodeClassNames []string `json:"nodeClassNames"`
	Edges          []uint64 `json:"edges"`
	EdgeTypes      []string `json:"edgeTypes"`
	EdgeNames      []string `json:"edgeNames"`
}

type stringTable struct {
	values []string
	index  map[string]uint64
}

func (t *stringTable) intern(s string) uint64 {
	if t.index == nil {
		t.index = make(map[string]uint64)
	}
	if i, ok := t.index[s]; ok {
		return i
	}
	i := uint64(len(t.values))
	t.values = append(t.values, s)
	t.index[s] = i
	return i
}

// Encode serializes a snapshot.
func Encode(s *Snapshot) (protocol.HeapSnapshotData, error) {
	g := Graph{
		Version:    graphVersion,
		Type:       graphType,
		SnapshotID: s.Seq,
		Timestamp:  s.Timestamp,
		TotalSize:  s.TotalSize(),
		Nodes:      make([]uint64, 0, len(s.Nodes)*nodeFieldCount),
		Edges:      []uint64{},
	}
	for _, k := range edgeKinds {
		g.EdgeTypes = append(g.EdgeTypes, k.String())
	}

	var classes, names stringTable
	for _, n := range s.Nodes {
		var flags uint64
		if n.Root {
			flags |= nodeFlagRoot
		}
		g.Nodes = append(g.Nodes, uint64(n.ID), n.Size, classes.intern(n.ClassName), flags)
		for _, e := range n.Edges {
			g.Edges = append(g.Edges, uint64(n.ID), uint64(e.To), uint64(e.Kind), names.intern(e.Name))
		}
	}
	g.NodeClassNames = append([]string{}, classes.values...)
	g.EdgeNames = append([]string{}, names.values...)

	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to encode heap snapshot: %w", err)
	}
	return protocol.HeapSnapshotData(data), nil
}

// Decode parses serialized snapshot data. Producer tags are not part of the
// wire form, so decoded nodes carry a zero Tag.
func Decode(data protocol.HeapSnapshotData) (*Snapshot, error) {
	var g Graph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("failed to parse heap snapshot: %w", err)
	}
	if g.Type != graphType {
		return nil, fmt.Errorf("unexpected heap snapshot type %q", g.Type)
	}
	if len(g.Nodes)%nodeFieldCount != 0 {
		return nil, fmt.Errorf("malformed heap snapshot: %d node fields", len(g.Nodes))
	}
	if len(g.Edges)%edgeFieldCount != 0 {
		return nil, fmt.Errorf("malformed heap snapshot: %d edge fields", len(g.Edges))
	}

	snap := &Snapshot{
		Seq:       g.SnapshotID,
		Timestamp: g.Timestamp,
		Nodes:     make([]Node, 0, len(g.Nodes)/nodeFieldCount),
	}
	for i := 0; i < len(g.Nodes); i += nodeFieldCount {
		classIdx := g.Nodes[i+2]
		if classIdx >= uint64(len(g.NodeClassNames)) {
			return nil, fmt.Errorf("malformed heap snapshot: class index %d out of range", classIdx)
		}
		snap.Nodes = append(snap.Nodes, Node{
			ID:        HeapObjectID(g.Nodes[i]),
			Size:      g.Nodes[i+1],
			ClassName: g.NodeClassNames[classIdx],
			Root:      g.Nodes[i+3]&nodeFlagRoot != 0,
		})
	}
	snap.index()

	for i := 0; i < len(g.Edges); i += edgeFieldCount {
		from, to := HeapObjectID(g.Edges[i]), HeapObjectID(g.Edges[i+1])
		kind, nameIdx := g.Edges[i+2], g.Edges[i+3]
		if kind >= uint64(len(edgeKinds)) || nameIdx >= uint64(len(g.EdgeNames)) {
			return nil, fmt.Errorf("malformed heap snapshot: edge %d has out of range indexes", i/edgeFieldCount)
		}
		fi, ok := snap.byID[from]
		if !ok {
			return nil, fmt.Errorf("malformed heap snapshot: edge from unknown node %d", from)
		}
		snap.Nodes[fi].Edges = append(snap.Nodes[fi].Edges, Edge{
			To:   to,
			Kind: edgeKinds[kind],
			Name: g.EdgeNames[nameIdx],
		})
	}

	return snap, nil
}
