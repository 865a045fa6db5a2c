package cache

import (
	"sort"

	"github.com/omni/vault-custody/entity"
)

// MergeTransactions prepends the incoming entries that are neither in
// knownHashes nor already cached, and orders the result newest first.
// Merging the same batch again is a no-op and the result never holds two
// entries with the same key.
func MergeTransactions(cached, incoming []*entity.HistoryEntry, knownHashes map[string]struct{}) []*entity.HistoryEntry {
	skip := make(map[string]struct{}, len(knownHashes)+len(cached)+len(incoming))
	for hash := range knownHashes {
		skip[hash] = struct{}{}
	}
	for _, e := range cached {
		if e != nil {
			skip[e.Key()] = struct{}{}
		}
	}

	merged := make([]*entity.HistoryEntry, 0, len(cached)+len(incoming))
	for _, e := range incoming {
		if e == nil {
			continue
		}
		if _, ok := skip[e.Key()]; ok {
			continue
		}
		skip[e.Key()] = struct{}{}
		merged = append(merged, e)
	}

	seen := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		if e == nil {
			continue
		}
		if _, ok := seen[e.Key()]; ok {
			continue
		}
		seen[e.Key()] = struct{}{}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

func knownHashesOf(entries []*entity.HistoryEntry) []string {
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			hashes = append(hashes, e.Key())
		}
	}
	return hashes
}
