package archive

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps the archive in process. It is used when no
// database is configured.
type MemoryRepository struct {
	limit int

	mu      sync.RWMutex
	records []Record
}

func NewMemoryRepository(limit int) *MemoryRepository {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryRepository{limit: limit}
}

func (r *MemoryRepository) Save(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	sort.SliceStable(r.records, func(i, j int) bool {
		return r.records[i].CreatedAt.After(r.records[j].CreatedAt)
	})
	if len(r.records) > r.limit {
		r.records = r.records[:r.limit]
	}
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]Summary, 0, len(r.records))
	for _, rec := range r.records {
		summaries = append(summaries, rec.Summary)
	}
	return summaries, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}
