package heap

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/coral-inspector/internal/safe"
)

type classTotals struct {
	objects int64
	bytes   int64
}

// Profile converts the snapshot into a pprof heap profile with one sample per
// class, so snapshots can be inspected with `go tool pprof`.
func (s *Snapshot) Profile() *profile.Profile {
	totals := make(map[string]*classTotals)
	for _, n := range s.Nodes {
		t, ok := totals[n.ClassName]
		if !ok {
			t = &classTotals{}
			totals[n.ClassName] = t
		}
		t.objects++
		t.bytes = safe.AddInt64(t.bytes, n.Size)
	}

	classes := make([]string, 0, len(totals))
	for name := range totals {
		classes = append(classes, name)
	}
	sort.Strings(classes)

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_space", Unit: "bytes"},
		},
		DefaultSampleType: "inuse_space",
		PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:            1,
		TimeNanos:         int64(s.Timestamp * 1e9),
		Comments:          []string{fmt.Sprintf("heap snapshot %d", s.Seq)},
	}

	for i, name := range classes {
		fn := &profile.Function{
			ID:         uint64(i + 1),
			Name:       name,
			SystemName: name,
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{totals[name].objects, totals[name].bytes},
			Label:    map[string][]string{"class": {name}},
		})
	}

	return prof
}

// WriteProfile writes the snapshot as a gzipped pprof profile.
func (s *Snapshot) WriteProfile(w io.Writer) error {
	if err := s.Profile().Write(w); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
