package repository

import (
	"context"
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by MetadataStore.Get for missing keys.
var ErrKeyNotFound = errors.New("metadata key not found")

// MetadataStore is a key-value mapping from opaque string keys to JSON
// documents. Implementations: Redis for production, an in-memory map for
// tests.
type MetadataStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// MultiGet returns one entry per requested key; missing keys yield a
	// nil slice at their position.
	MultiGet(ctx context.Context, keys []string) ([][]byte, error)
	// Scan returns all keys with the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
}

// Key shapes for stored documents. The entity id already embeds the owning
// user and creation instant, so these are collision-free per user and
// prefix-scannable by user.

// ScoreKey returns the metadata key for a score id.
func ScoreKey(id string) string {
	return "score_" + id
}

// ConversionKey returns the metadata key for a conversion id.
func ConversionKey(id string) string {
	return "conversion_" + id
}

// UserScoresKey returns the key of a user's score index.
func UserScoresKey(userID int64) string {
	return fmt.Sprintf("user_scores_%d", userID)
}

// UserConversionsKey returns the key of a user's conversion index.
func UserConversionsKey(userID int64) string {
	return fmt.Sprintf("user_conversions_%d", userID)
}

// UserScorePrefix returns the scan prefix covering all of a user's scores.
func UserScorePrefix(userID int64) string {
	return fmt.Sprintf("score_%d_", userID)
}

// UserConversionPrefix returns the scan prefix covering all of a user's
// conversions.
func UserConversionPrefix(userID int64) string {
	return fmt.Sprintf("conversion_%d_", userID)
}
