// Package sessions tracks active login sessions in Redis so users can
// list and revoke them per device.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a session id does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session describes one logged-in device.
type Session struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	UserAgent  string    `json:"userAgent"`
	RemoteAddr string    `json:"remoteAddr"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Store persists sessions keyed by id, with a per-user index set.
// Sessions expire with the refresh token TTL; Touch extends them.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore builds a session store with the given TTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return "session:" + id
}

func userKey(userID int64) string {
	return fmt.Sprintf("user-sessions:%d", userID)
}

// Create registers a new session under the given id and returns it.
// The id is the refresh token's jti, so the sid claim on issued access
// tokens names the session it belongs to.
func (s *Store) Create(ctx context.Context, id string, userID int64, userAgent, remoteAddr string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	now := time.Now()
	sess := &Session{
		ID:         id,
		UserID:     userID,
		UserAgent:  userAgent,
		RemoteAddr: remoteAddr,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, userKey(userID), sess.ID).Err(); err != nil {
		return nil, fmt.Errorf("index session: %w", err)
	}
	// Keep the index from outliving its members forever.
	if err := s.client.Expire(ctx, userKey(userID), s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("expire session index: %w", err)
	}
	return sess, nil
}

func (s *Store) write(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get fetches one session.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// List returns the user's live sessions, pruning expired ids from the
// index as it goes.
func (s *Store) List(ctx context.Context, userID int64) ([]Session, error) {
	ids, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}

	sessions := []Session{}
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.SRem(ctx, userKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

// Rotate moves a session to a new id when the refresh token rotates,
// keeping its creation time and device metadata. A session missing from
// Redis (expired, or revoked elsewhere) is recreated bare under the new
// id so the device stays listed.
func (s *Store) Rotate(ctx context.Context, userID int64, oldID, newID string) (*Session, error) {
	if newID == "" {
		return nil, errors.New("session id is required")
	}
	now := time.Now()
	sess, err := s.Get(ctx, oldID)
	switch {
	case errors.Is(err, ErrNotFound):
		sess = &Session{UserID: userID, CreatedAt: now}
	case err != nil:
		return nil, err
	case sess.UserID != userID:
		return nil, ErrNotFound
	default:
		s.client.Del(ctx, sessionKey(oldID))
		s.client.SRem(ctx, userKey(userID), oldID)
	}

	sess.ID = newID
	sess.LastSeenAt = now
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, userKey(userID), newID).Err(); err != nil {
		return nil, fmt.Errorf("index session: %w", err)
	}
	if err := s.client.Expire(ctx, userKey(userID), s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("expire session index: %w", err)
	}
	return sess, nil
}

// Touch refreshes a session's last-seen time and TTL.
func (s *Store) Touch(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastSeenAt = time.Now()
	return s.write(ctx, sess)
}

// Revoke removes one session. Revoking a session the user does not own
// is the caller's responsibility to prevent.
func (s *Store) Revoke(ctx context.Context, userID int64, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrNotFound
	}
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := s.client.SRem(ctx, userKey(userID), id).Err(); err != nil {
		return fmt.Errorf("unindex session: %w", err)
	}
	return nil
}

// RevokeAll removes every session for the user. Used on password
// change, deactivation, and account deletion.
func (s *Store) RevokeAll(ctx context.Context, userID int64) (int, error) {
	ids, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list session ids: %w", err)
	}
	revoked := 0
	for _, id := range ids {
		if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
			return revoked, fmt.Errorf("delete session: %w", err)
		}
		revoked++
	}
	if err := s.client.Del(ctx, userKey(userID)).Err(); err != nil {
		return revoked, fmt.Errorf("delete session index: %w", err)
	}
	return revoked, nil
}
