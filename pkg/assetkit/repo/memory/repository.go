// Package memory implements the asset repository with in-memory maps,
// for tests and development setups.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// Repository implements assetkit.Repository using in-memory storage.
type Repository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*assetkit.AssetRecord
}

// New creates an empty in-memory repository.
func New() *Repository {
	return &Repository{records: make(map[uuid.UUID]*assetkit.AssetRecord)}
}

func (r *Repository) Save(ctx context.Context, rec *assetkit.AssetRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to avoid external modifications.
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*assetkit.AssetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return nil, assetkit.ErrAssetNotFound
	}
	return rec.Clone(), nil
}

func (r *Repository) Find(ctx context.Context, filter assetkit.Filter) (*assetkit.AssetRecord, error) {
	filter.Limit = 1
	recs, err := r.FindMany(ctx, filter)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (r *Repository) FindMany(ctx context.Context, filter assetkit.Filter) ([]*assetkit.AssetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var recs []*assetkit.AssetRecord
	for _, rec := range r.records {
		if filter.Matches(rec) {
			recs = append(recs, rec.Clone())
		}
	}
	// Map iteration order is random; newest first keeps results stable.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID.String() < recs[j].ID.String()
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

func (r *Repository) UpdateMeta(ctx context.Context, id uuid.UUID, meta assetkit.AssetMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists {
		return assetkit.ErrAssetNotFound
	}
	updated := rec.Clone()
	updated.Meta = meta
	r.records[id] = updated.Clone()
	return nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; !exists {
		return assetkit.ErrAssetNotFound
	}
	delete(r.records, id)
	return nil
}
