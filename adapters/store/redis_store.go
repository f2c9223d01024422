package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/eauth/core"
	"github.com/layer-3/eauth/ports"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix   = "eauth:session:"
	challengePrefix = "eauth:challenge:"
)

// RedisStore is a Redis implementation of the session and challenge stores
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

var (
	_ ports.SessionStore   = (*RedisStore)(nil)
	_ ports.ChallengeStore = (*RedisStore)(nil)
)

type redisSession struct {
	Address   string            `json:"address,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
	Token     string            `json:"token,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type redisChallenge struct {
	Address   string          `json:"address"`
	TypedData json.RawMessage `json:"typed_data"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// Get returns the session with id
func (s *RedisStore) Get(ctx context.Context, id string) (*core.Session, error) {
	raw, err := s.client.Get(ctx, sessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec redisSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	sess := &core.Session{
		ID:        id,
		Address:   rec.Address,
		UserID:    rec.UserID,
		Token:     rec.Token,
		Values:    rec.Values,
		ExpiresAt: rec.ExpiresAt,
	}
	if sess.Expired(s.now()) {
		return nil, core.ErrSessionNotFound
	}
	return sess, nil
}

// Save stores the session with a TTL matching its expiry
func (s *RedisStore) Save(ctx context.Context, session *core.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Destroy(ctx, session.ID)
		}
	}

	payload, err := json.Marshal(redisSession{
		Address:   session.Address,
		UserID:    session.UserID,
		Token:     session.Token,
		Values:    session.Values,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, sessionPrefix+session.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Destroy removes the session
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Reset deletes every session key
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, sessionPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete sessions: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan sessions: %w", err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
	}
	return nil
}

// Put stores the challenge with ttl
func (s *RedisStore) Put(ctx context.Context, challenge *core.Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(redisChallenge{
		Address:   challenge.Address,
		TypedData: challenge.TypedData,
		IssuedAt:  challenge.IssuedAt,
		ExpiresAt: challenge.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}

	if err := s.client.Set(ctx, challengePrefix+challenge.Nonce, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

// Take atomically reads and deletes the challenge for nonce
func (s *RedisStore) Take(ctx context.Context, nonce string) (*core.Challenge, error) {
	raw, err := s.client.GetDel(ctx, challengePrefix+nonce).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take challenge: %w", err)
	}

	var rec redisChallenge
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	return &core.Challenge{
		Nonce:     nonce,
		Address:   rec.Address,
		TypedData: rec.TypedData,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
