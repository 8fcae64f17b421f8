package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anamnesis/anamnesis/internal/platform/db"
)

const maxKeyLength = 255

// Handler performs the guarded side effect and returns the status code and
// response body to store for replays.
type Handler func(ctx context.Context) (statusCode int, response interface{}, err error)

// Result is the response of a guarded call, fresh or replayed.
type Result struct {
	StatusCode int
	Body       json.RawMessage
	Replayed   bool
}

// Guard gives mutating operations at-most-once semantics per
// (tenant, idempotency key).
type Guard struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	atomic func(ctx context.Context, fn func(ctx context.Context) error) error
	locks  *keyedMutex
	logger zerolog.Logger
}

// NewGuard creates a Guard over store. A non-positive ttl selects DefaultTTL.
func NewGuard(store Store, ttl time.Duration, logger zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		atomic: runAtomic,
		locks:  newKeyedMutex(),
		logger: logger.With().Str("component", "idempotency").Logger(),
	}
}

// runAtomic wraps fn in a transaction when ctx carries a tenant connection,
// so the handler's writes and the record insert commit together.
func runAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) == nil && db.ConnFromContext(ctx) == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, fn)
}

// WithIdempotency replays the stored response when (tenantID, key) was
// already used with requestHash, fails with ErrConflict when it was used
// with another hash, and otherwise runs handler and stores its response.
// Handler errors are returned as-is and nothing is stored.
func (g *Guard) WithIdempotency(ctx context.Context, tenantID, key, requestHash string, handler Handler) (*Result, error) {
	if key == "" || len(key) > maxKeyLength {
		return nil, ErrInvalidKey
	}

	unlock := g.locks.Lock(tenantID + "\x00" + key)
	defer unlock()

	rec, err := g.store.Get(ctx, tenantID, key)
	switch {
	case err == nil:
		return g.replay(rec, requestHash)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}

	var result *Result
	err = g.atomic(ctx, func(ctx context.Context) error {
		status, response, err := handler(ctx)
		if err != nil {
			return err
		}
		body, err := json.Marshal(response)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		now := g.now().UTC()
		rec := &Record{
			TenantID:    tenantID,
			Key:         key,
			RequestHash: requestHash,
			Response:    body,
			StatusCode:  status,
			CreatedAt:   now,
			ExpiresAt:   now.Add(g.ttl),
		}
		if err := g.store.Put(ctx, rec); err != nil {
			return err
		}
		result = &Result{StatusCode: status, Body: body}
		return nil
	})

	if errors.Is(err, ErrKeyExists) {
		// Another process stored the key first; our writes were rolled back.
		rec, getErr := g.store.Get(ctx, tenantID, key)
		if getErr != nil {
			return nil, fmt.Errorf("load idempotency record: %w", getErr)
		}
		return g.replay(rec, requestHash)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Guard) replay(rec *Record, requestHash string) (*Result, error) {
	if rec.RequestHash != requestHash {
		g.logger.Warn().
			Str("tenant_id", rec.TenantID).
			Str("idempotency_key", rec.Key).
			Msg("idempotency key reused with a different request")
		return nil, ErrConflict
	}
	g.logger.Debug().
		Str("tenant_id", rec.TenantID).
		Str("idempotency_key", rec.Key).
		Int("status", rec.StatusCode).
		Msg("replaying stored response")

	body := make(json.RawMessage, len(rec.Response))
	copy(body, rec.Response)
	return &Result{StatusCode: rec.StatusCode, Body: body, Replayed: true}, nil
}

// keyedMutex serialises calls sharing a key within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
