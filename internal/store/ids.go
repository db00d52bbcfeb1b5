package store

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// LockOrder returns ids deduplicated and sorted ascending. Every transaction that locks
// several lots acquires them in this order so overlapping batches cannot deadlock.
func LockOrder(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
