package history

import (
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/pipewatch/core"
)

// DefaultSize is the number of runs an InMemoryStore keeps by default.
const DefaultSize = 32

var _ core.HistoryStore = (*InMemoryStore)(nil)

// InMemoryStore is a volatile HistoryStore bounded by an LRU. Each stored and
// returned state is cloned to prevent external mutation.
type InMemoryStore struct {
	runs *lru.Cache[string, core.RunState]
}

// NewInMemoryStore constructs a store holding at most size runs. A size of
// zero or less uses DefaultSize.
func NewInMemoryStore(size int) *InMemoryStore {
	if size <= 0 {
		size = DefaultSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, core.RunState](size)
	return &InMemoryStore{runs: cache}
}

// Save stores a clone of state, evicting the least recently used run when
// full.
func (s *InMemoryStore) Save(_ context.Context, state core.RunState) error {
	s.runs.Add(state.RunID, state.Clone())
	return nil
}

// Get returns a clone of the stored run or ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, runID string) (core.RunState, error) {
	st, ok := s.runs.Get(runID)
	if !ok {
		return core.RunState{}, ErrNotFound
	}
	return st.Clone(), nil
}

// List returns summaries, most recently updated first.
func (s *InMemoryStore) List(_ context.Context) ([]core.RunSummary, error) {
	keys := s.runs.Keys()
	out := make([]core.RunSummary, 0, len(keys))
	for _, k := range keys {
		if st, ok := s.runs.Peek(k); ok {
			out = append(out, st.Summarize())
		}
	}
	sortSummaries(out)
	return out, nil
}

// Len returns the number of stored runs.
func (s *InMemoryStore) Len() int { return s.runs.Len() }

func sortSummaries(out []core.RunSummary) {
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
}
