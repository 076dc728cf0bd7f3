package artifact

import (
	"sort"

	"github.com/hupe1980/pipewatch/core"
)

// MergeAll returns a new map holding existing with incoming applied in order.
// A record whose filename is already present replaces the stored record
// entirely. Records without a filename are ignored. Neither input is
// modified.
func MergeAll(existing map[string]core.ArtifactRecord, incoming []core.ArtifactRecord) map[string]core.ArtifactRecord {
	out := make(map[string]core.ArtifactRecord, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = copyRecord(v)
	}
	for _, rec := range incoming {
		if rec.Filename == "" {
			continue
		}
		out[rec.Filename] = copyRecord(rec)
	}
	return out
}

func copyRecord(r core.ArtifactRecord) core.ArtifactRecord {
	if r.SizeBytes != nil {
		v := *r.SizeBytes
		r.SizeBytes = &v
	}
	return r
}

// Set is a read-only view over a filename-keyed artifact map.
type Set map[string]core.ArtifactRecord

var _ core.ArtifactStore = Set(nil)

// Artifacts returns the records ordered by filename.
func (s Set) Artifacts() []core.ArtifactRecord {
	out := make([]core.ArtifactRecord, 0, len(s))
	for _, a := range s {
		out = append(out, copyRecord(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// Get returns the record stored under filename or ErrNotFound.
func (s Set) Get(filename string) (core.ArtifactRecord, error) {
	a, ok := s[filename]
	if !ok {
		return core.ArtifactRecord{}, ErrNotFound
	}
	return copyRecord(a), nil
}

// Filenames returns the sorted keys of the set.
func (s Set) Filenames() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
