package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
)

const (
	// idleTTL keeps a quiet conversation alive; activeTTL is the shorter
	// window used while we are waiting on the user or on a worker.
	idleTTL   = 15 * time.Minute
	activeTTL = 5 * time.Minute

	// casAttempts bounds optimistic-locking retries before the caller is
	// told to come back (the webhook answers 503, the provider retries).
	casAttempts = 3
)

func sessionKey(userKey string) string { return "session:" + userKey }

// SessionStore is the single source of truth for per-user conversation state.
// Updates for one user are serialized: Update applies fn under a WATCH-based
// compare-and-set so two concurrent messages can never both transition from
// the same prior state.
type SessionStore interface {
	// Get returns the stored session, or a fresh IDLE one when the key is
	// absent or expired.
	Get(ctx context.Context, userKey string) (domain.Session, error)
	// Update atomically applies fn to the current session and persists the
	// returned session. fn returning an error aborts without writing. A lost
	// race after retries surfaces as *domain.SessionConflictError.
	Update(ctx context.Context, userKey string, fn func(domain.Session) (domain.Session, error)) (domain.Session, error)
	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, userKey string) error
}

type sessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a Redis-backed SessionStore.
func NewSessionStore(client *redis.Client) SessionStore {
	return &sessionStore{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *sessionStore) Get(ctx context.Context, userKey string) (domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(userKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.NewSession(userKey), nil
		}
		return domain.Session{}, fmt.Errorf("redis get session for %s: %w", userKey, err)
	}
	return decodeSession(userKey, data)
}

func (s *sessionStore) Update(ctx context.Context, userKey string, fn func(domain.Session) (domain.Session, error)) (domain.Session, error) {
	key := sessionKey(userKey)
	var updated domain.Session

	txn := func(tx *redis.Tx) error {
		sess := domain.NewSession(userKey)
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get session for %s: %w", userKey, err)
		}
		if err == nil {
			if sess, err = decodeSession(userKey, data); err != nil {
				// Undecodable state is treated as expired; the router
				// will walk the user back to the menu.
				sess = domain.NewSession(userKey)
			}
		}

		next, err := fn(sess)
		if err != nil {
			return err
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session for %s: %w", userKey, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, ttlFor(next))
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // key changed under us, retry against the new state
		}
		return domain.Session{}, err
	}
	return domain.Session{}, &domain.SessionConflictError{UserKey: userKey}
}

func (s *sessionStore) Delete(ctx context.Context, userKey string) error {
	if err := s.client.Del(ctx, sessionKey(userKey)).Err(); err != nil {
		return fmt.Errorf("redis delete session for %s: %w", userKey, err)
	}
	return nil
}

// ttlFor picks the expiry window: short while the user owes us input or a
// task is pending, long when the conversation is at rest.
func ttlFor(sess domain.Session) time.Duration {
	if sess.Pending() ||
		sess.State == domain.StateAwaitingImage ||
		sess.State == domain.StateAwaitingQueryText {
		return activeTTL
	}
	return idleTTL
}

func decodeSession(userKey string, data []byte) (domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session for %s: %w", userKey, err)
	}
	if sess.UserKey == "" {
		sess.UserKey = userKey
	}
	return sess, nil
}
