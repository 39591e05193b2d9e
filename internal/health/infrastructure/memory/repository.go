package memory

import (
	"context"
	"sort"
	"sync"

	health "homewatch/internal/health/domain"
)

// Repository keeps status records in memory.
type Repository struct {
	mu      sync.RWMutex
	records map[string]health.Record
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{records: make(map[string]health.Record)}
}

// Get returns nil when the device has no record.
func (r *Repository) Get(_ context.Context, deviceID string) (*health.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[deviceID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// List returns all records ordered by device id.
func (r *Repository) List(_ context.Context) ([]health.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]health.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// Save upserts a record.
func (r *Repository) Save(_ context.Context, record health.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.DeviceID] = record
	return nil
}

// Delete removes a record.
func (r *Repository) Delete(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[deviceID]; !ok {
		return health.ErrNotFound
	}
	delete(r.records, deviceID)
	return nil
}
