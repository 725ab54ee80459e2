package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Hdd5ps/sheet-to-sound/model"
)

// ConversionRepository defines the interface for conversion document operations.
type ConversionRepository interface {
	Save(ctx context.Context, conv *model.Conversion) error
	// GetByID returns nil, nil when the conversion does not exist.
	GetByID(ctx context.Context, id string) (*model.Conversion, error)
	// GetMany skips ids whose document is missing.
	GetMany(ctx context.Context, ids []string) ([]*model.Conversion, error)
	Delete(ctx context.Context, id string) error
	ScanUserIDs(ctx context.Context, userID int64) ([]string, error)
}

type metadataConversionRepository struct {
	store MetadataStore
}

// NewConversionRepository creates a ConversionRepository backed by the metadata store.
func NewConversionRepository(store MetadataStore) ConversionRepository {
	return &metadataConversionRepository{store: store}
}

func (r *metadataConversionRepository) Save(ctx context.Context, conv *model.Conversion) error {
	doc, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversion %s: %w", conv.ID, err)
	}
	return r.store.Set(ctx, ConversionKey(conv.ID), doc)
}

func (r *metadataConversionRepository) GetByID(ctx context.Context, id string) (*model.Conversion, error) {
	doc, err := r.store.Get(ctx, ConversionKey(id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	conv := &model.Conversion{}
	if err := json.Unmarshal(doc, conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversion %s: %w", id, err)
	}
	return conv, nil
}

func (r *metadataConversionRepository) GetMany(ctx context.Context, ids []string) ([]*model.Conversion, error) {
	if len(ids) == 0 {
		return []*model.Conversion{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ConversionKey(id)
	}

	docs, err := r.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	convs := make([]*model.Conversion, 0, len(docs))
	for i, doc := range docs {
		if doc == nil {
			continue // stale index entry, target already deleted
		}
		conv := &model.Conversion{}
		if err := json.Unmarshal(doc, conv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversion %s: %w", ids[i], err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (r *metadataConversionRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, ConversionKey(id))
}

func (r *metadataConversionRepository) ScanUserIDs(ctx context.Context, userID int64) ([]string, error) {
	keys, err := r.store.Scan(ctx, UserConversionPrefix(userID))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, "conversion_"))
	}
	return ids, nil
}
