package vectorindex

import (
	"fmt"
	"maps"

	"github.com/endomorphosis/ipfskg/pkg/math/vector"
)

// Snapshot is a serialisable copy of an index.
type Snapshot struct {
	Dimension int             `json:"dimension"`
	Metric    Metric          `json:"metric"`
	NextID    ID              `json:"next_id"`
	Entries   []SnapshotEntry `json:"entries"`
}

// SnapshotEntry is one stored vector.
type SnapshotEntry struct {
	ID       ID        `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// Snapshot copies the index contents.
func (x *Index) Snapshot() Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := Snapshot{Dimension: x.dim, Metric: x.metric, NextID: x.nextID, Entries: make([]SnapshotEntry, len(x.entries))}
	for i, e := range x.entries {
		s.Entries[i] = SnapshotEntry{ID: e.id, Vector: vector.Copy(e.vec), Metadata: maps.Clone(e.meta)}
	}
	return s
}

// Restore builds an index from a snapshot. Dimension and Metric in opts are
// taken from the snapshot; the backend choice comes from opts.
func Restore(s Snapshot, opts Options) (*Index, error) {
	opts.Dimension = s.Dimension
	opts.Metric = s.Metric
	x, err := New(opts)
	if err != nil {
		return nil, err
	}
	for _, e := range s.Entries {
		if len(e.Vector) != s.Dimension {
			return nil, fmt.Errorf("%w: entry %d has %d, want %d", ErrDimensionMismatch, e.ID, len(e.Vector), s.Dimension)
		}
		if _, dup := x.pos[e.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, e.ID)
		}
		x.pos[e.ID] = len(x.entries)
		x.entries = append(x.entries, entry{id: e.ID, vec: vector.Copy(e.Vector), meta: maps.Clone(e.Metadata)})
		x.backend.Add(x.entries[len(x.entries)-1].vec)
		if e.ID >= x.nextID {
			x.nextID = e.ID + 1
		}
	}
	if s.NextID > x.nextID {
		x.nextID = s.NextID
	}
	return x, nil
}
