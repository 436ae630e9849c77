// Package tokenstore persists the single OAuth2 token record the bridge
// holds. At most one record is current at any time; Replace swaps it
// atomically so concurrent readers never observe a half-written record.
package tokenstore

import (
	"context"
	"time"
)

// TokenRecord is the stored OAuth2 token state.
type TokenRecord struct {
	ID           int64     `json:"id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists the current token record. Get returns (nil, nil) when no
// record exists; absence means "not authenticated".
type Store interface {
	// Get returns the current record, or (nil, nil) when none exists.
	Get(ctx context.Context) (*TokenRecord, error)
	// Replace atomically removes any existing records and inserts rec as
	// the new current record, returning it with its storage id set.
	Replace(ctx context.Context, rec *TokenRecord) (*TokenRecord, error)
	// Update mutates the existing record in place, keyed by rec.ID.
	Update(ctx context.Context, rec *TokenRecord) error
	// Delete removes all records. Deleting an empty store is not an error.
	Delete(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}
