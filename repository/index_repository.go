package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// IndexRepository manages the per-user score and conversion id indexes.
// The indexes are advisory caches: callers must tolerate entries whose
// target document no longer exists, and the lists can always be rebuilt
// from a prefix scan. Mutation is read-modify-write, so callers serialize
// writes per user.
type IndexRepository interface {
	GetScoreIndex(ctx context.Context, userID int64) ([]string, error)
	SetScoreIndex(ctx context.Context, userID int64, ids []string) error
	GetConversionIndex(ctx context.Context, userID int64) ([]string, error)
	SetConversionIndex(ctx context.Context, userID int64, ids []string) error
}

type metadataIndexRepository struct {
	store MetadataStore
}

// NewIndexRepository creates an IndexRepository backed by the metadata store.
func NewIndexRepository(store MetadataStore) IndexRepository {
	return &metadataIndexRepository{store: store}
}

func (r *metadataIndexRepository) getIndex(ctx context.Context, key string) ([]string, error) {
	doc, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return []string{}, nil
		}
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(doc, &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index %s: %w", key, err)
	}
	return ids, nil
}

func (r *metadataIndexRepository) setIndex(ctx context.Context, key string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	doc, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal index %s: %w", key, err)
	}
	return r.store.Set(ctx, key, doc)
}

func (r *metadataIndexRepository) GetScoreIndex(ctx context.Context, userID int64) ([]string, error) {
	return r.getIndex(ctx, UserScoresKey(userID))
}

func (r *metadataIndexRepository) SetScoreIndex(ctx context.Context, userID int64, ids []string) error {
	return r.setIndex(ctx, UserScoresKey(userID), ids)
}

func (r *metadataIndexRepository) GetConversionIndex(ctx context.Context, userID int64) ([]string, error) {
	return r.getIndex(ctx, UserConversionsKey(userID))
}

func (r *metadataIndexRepository) SetConversionIndex(ctx context.Context, userID int64, ids []string) error {
	return r.setIndex(ctx, UserConversionsKey(userID), ids)
}
