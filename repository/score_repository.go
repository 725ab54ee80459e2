package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Hdd5ps/sheet-to-sound/model"
)

// ScoreRepository defines the interface for score document operations.
type ScoreRepository interface {
	Save(ctx context.Context, score *model.Score) error
	// GetByID returns nil, nil when the score does not exist.
	GetByID(ctx context.Context, id string) (*model.Score, error)
	// GetMany skips ids whose document is missing.
	GetMany(ctx context.Context, ids []string) ([]*model.Score, error)
	Delete(ctx context.Context, id string) error
	// ScanUserIDs derives the user's score ids from a full prefix scan of
	// the store, independent of the advisory index.
	ScanUserIDs(ctx context.Context, userID int64) ([]string, error)
}

type metadataScoreRepository struct {
	store MetadataStore
}

// NewScoreRepository creates a ScoreRepository backed by the metadata store.
func NewScoreRepository(store MetadataStore) ScoreRepository {
	return &metadataScoreRepository{store: store}
}

func (r *metadataScoreRepository) Save(ctx context.Context, score *model.Score) error {
	// The nested conversions are a listing-time attachment, never stored.
	stored := *score
	stored.Conversions = nil

	doc, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal score %s: %w", score.ID, err)
	}
	return r.store.Set(ctx, ScoreKey(score.ID), doc)
}

func (r *metadataScoreRepository) GetByID(ctx context.Context, id string) (*model.Score, error) {
	doc, err := r.store.Get(ctx, ScoreKey(id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	score := &model.Score{}
	if err := json.Unmarshal(doc, score); err != nil {
		return nil, fmt.Errorf("failed to unmarshal score %s: %w", id, err)
	}
	return score, nil
}

func (r *metadataScoreRepository) GetMany(ctx context.Context, ids []string) ([]*model.Score, error) {
	if len(ids) == 0 {
		return []*model.Score{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ScoreKey(id)
	}

	docs, err := r.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	scores := make([]*model.Score, 0, len(docs))
	for i, doc := range docs {
		if doc == nil {
			continue // stale index entry, target already deleted
		}
		score := &model.Score{}
		if err := json.Unmarshal(doc, score); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score %s: %w", ids[i], err)
		}
		scores = append(scores, score)
	}
	return scores, nil
}

func (r *metadataScoreRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, ScoreKey(id))
}

func (r *metadataScoreRepository) ScanUserIDs(ctx context.Context, userID int64) ([]string, error) {
	keys, err := r.store.Scan(ctx, UserScorePrefix(userID))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, "score_"))
	}
	return ids, nil
}
