// Package sessions keeps booking wizard sessions in Redis.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/storefront-booking/internal/wizard"
)

var (
	ErrNotFound = errors.New("sessions: session not found")
	ErrLocked   = errors.New("sessions: session is busy")
)

const (
	sessionKeyPrefix = "booking:session:"
	lockKeyPrefix    = "booking:lock:"
	refKeyPrefix     = "booking:ref:"
	defaultTTL       = 2 * time.Hour
	completedTTL     = 15 * time.Minute
	lockTTL          = 30 * time.Second
	lockRetry        = 50 * time.Millisecond
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store persists wizard sessions as JSON with a sliding TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if rdb == nil {
		panic("sessions: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl, now: time.Now}
}

func sessionKey(storeID, id string) string {
	return sessionKeyPrefix + storeID + ":" + id
}

// Create starts and persists a new session.
func (s *Store) Create(ctx context.Context, storeID string, identity *wizard.Identity) (*wizard.Session, error) {
	session := wizard.NewSession(uuid.NewString(), storeID, identity, s.now().UTC())
	if err := s.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) Get(ctx context.Context, storeID, id string) (*wizard.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(storeID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}
	var session wizard.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("sessions: unmarshal: %w", err)
	}
	return &session, nil
}

// Save writes the session and refreshes its TTL. A completed session only
// lingers for completedTTL, long enough to answer re-delivered callbacks.
func (s *Store) Save(ctx context.Context, session *wizard.Session) error {
	if session == nil || session.ID == "" || session.StoreID == "" {
		return fmt.Errorf("sessions: id and store id required")
	}
	session.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("sessions: marshal: %w", err)
	}
	ttl := s.ttl
	if session.Step == wizard.StepSuccess && completedTTL < ttl {
		ttl = completedTTL
	}
	if err := s.rdb.Set(ctx, sessionKey(session.StoreID, session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("sessions: save: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, storeID, id string) error {
	return s.rdb.Del(ctx, sessionKey(storeID, id)).Err()
}

// SessionRef identifies the session that owns a transaction reference.
type SessionRef struct {
	StoreID   string `json:"store_id"`
	SessionID string `json:"session_id"`
}

// BindReference maps a transaction reference back to its session so
// gateway callbacks, which only carry the reference, can find it.
func (s *Store) BindReference(ctx context.Context, ref string, owner SessionRef) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("sessions: marshal ref: %w", err)
	}
	if err := s.rdb.Set(ctx, refKeyPrefix+ref, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("sessions: bind ref: %w", err)
	}
	return nil
}

func (s *Store) LookupReference(ctx context.Context, ref string) (SessionRef, error) {
	data, err := s.rdb.Get(ctx, refKeyPrefix+ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionRef{}, ErrNotFound
	}
	if err != nil {
		return SessionRef{}, fmt.Errorf("sessions: lookup ref: %w", err)
	}
	var owner SessionRef
	if err := json.Unmarshal(data, &owner); err != nil {
		return SessionRef{}, fmt.Errorf("sessions: unmarshal ref: %w", err)
	}
	return owner, nil
}

// Lock takes the per-session processing lock, waiting up to wait for it.
// The returned func releases it.
func (s *Store) Lock(ctx context.Context, id string, wait time.Duration) (func(), error) {
	key := lockKeyPrefix + id
	token := uuid.NewString()
	deadline := s.now().Add(wait)
	for {
		ok, err := s.rdb.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("sessions: lock: %w", err)
		}
		if ok {
			return func() {
				// Released on a fresh context so a canceled request still unlocks.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, s.rdb, []string{key}, token).Err()
			}, nil
		}
		if !s.now().Before(deadline) {
			return nil, ErrLocked
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}
