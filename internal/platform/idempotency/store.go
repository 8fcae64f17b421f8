package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long a stored response can be replayed.
const DefaultTTL = 24 * time.Hour

var (
	// ErrConflict is returned when a key is reused for a different request.
	ErrConflict = errors.New("idempotency key already used for a different request")
	// ErrNotFound is returned by stores when no live record exists.
	ErrNotFound = errors.New("idempotency record not found")
	// ErrKeyExists is returned by stores when a live record already holds the key.
	ErrKeyExists = errors.New("idempotency record already exists")
	// ErrInvalidKey is returned for empty or oversized keys.
	ErrInvalidKey = errors.New("invalid idempotency key")
)

// Record is the stored outcome of a mutating request, keyed by
// (TenantID, Key). A key is bound to exactly one RequestHash.
type Record struct {
	TenantID    string          `json:"tenant_id"`
	Key         string          `json:"key"`
	RequestHash string          `json:"request_hash"`
	Response    json.RawMessage `json:"response"`
	StatusCode  int             `json:"status_code"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Store persists idempotency records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the live record for (tenantID, key) or ErrNotFound.
	Get(ctx context.Context, tenantID, key string) (*Record, error)
	// Put stores rec unless a live record holds the key, in which case it
	// returns ErrKeyExists.
	Put(ctx context.Context, rec *Record) error
}
