// Package session persists per-session server state in Redis: refresh
// tokens keyed by user and session, the access-token deny-list, and the
// short-lived OTP / password-reset entries that share the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any transport-level Redis failure. Callers map
// it to an infrastructure error, never to an allow/deny decision.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	refreshPrefix = "refresh_token:"
	denyPrefix    = "deny_list:"
	otpPrefix     = "otp:"
	resetPrefix   = "reset_token:"

	// deny-list entries hold a sentinel value; only key existence matters.
	denySentinel = "1"

	scanBatch = 512
)

// Store is a Redis-backed token/session state store. All methods are safe
// for concurrent use.
type Store struct {
	redis redis.UniversalClient
}

// NewStore wraps an existing Redis client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

func refreshKey(userID, sessionID string) string {
	return refreshPrefix + userID + ":" + sessionID
}

// SaveRefresh stores a refresh token under refresh_token:{user}:{session}.
// One key per session allows concurrent multi-device sessions.
func (s *Store) SaveRefresh(ctx context.Context, userID, sessionID, token string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, refreshKey(userID, sessionID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetRefresh returns the stored refresh token for a session. ok is false
// when the key is absent or expired.
func (s *Store) GetRefresh(ctx context.Context, userID, sessionID string) (string, bool, error) {
	token, err := s.redis.Get(ctx, refreshKey(userID, sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return token, true, nil
}

// DeleteRefresh removes a single session's refresh token. Deleting an
// absent key is not an error.
func (s *Store) DeleteRefresh(ctx context.Context, userID, sessionID string) error {
	if err := s.redis.Del(ctx, refreshKey(userID, sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllRefresh scans and deletes every refresh-token key for the user,
// across all sessions. Idempotent: a second call finds zero keys and
// deletes nothing. Returns the number of keys removed.
func (s *Store) DeleteAllRefresh(ctx context.Context, userID string) (int, error) {
	pattern := refreshPrefix + userID + ":*"

	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := s.redis.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// ActiveSessionIDs lists session IDs that still hold a refresh token for
// the user. Admin/introspection surface, not a request hot path.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	pattern := refreshPrefix + userID + ":*"
	prefixLen := len(refreshPrefix + userID + ":")

	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			if len(key) > prefixLen {
				ids = append(ids, key[prefixLen:])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// Deny records an access token's jti on the deny-list for exactly the
// token's remaining lifetime — never longer (the key would leak past the
// token's natural expiry) and never shorter (the token would come back to
// life before it expires). A non-positive TTL means the token is already
// expired and nothing needs recording.
func (s *Store) Deny(ctx context.Context, jti string, remaining time.Duration) error {
	if jti == "" {
		return errors.New("empty jti")
	}
	if remaining <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, denyPrefix+jti, denySentinel, remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsDenied reports whether a jti is on the deny-list.
func (s *Store) IsDenied(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, denyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// SaveOTP stores a one-time code for the identifier with the given TTL.
func (s *Store) SaveOTP(ctx context.Context, identifier, code string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, otpPrefix+identifier, code, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetOTP returns the stored code; ok is false when absent or expired.
func (s *Store) GetOTP(ctx context.Context, identifier string) (string, bool, error) {
	code, err := s.redis.Get(ctx, otpPrefix+identifier).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return code, true, nil
}

// DeleteOTP removes the code after successful verification.
func (s *Store) DeleteOTP(ctx context.Context, identifier string) error {
	if err := s.redis.Del(ctx, otpPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SaveResetToken stores a password-reset token minted by OTP verification.
func (s *Store) SaveResetToken(ctx context.Context, identifier, token string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, resetPrefix+identifier, token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetResetToken returns the stored reset token; ok is false when absent.
func (s *Store) GetResetToken(ctx context.Context, identifier string) (string, bool, error) {
	token, err := s.redis.Get(ctx, resetPrefix+identifier).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return token, true, nil
}

// DeleteResetToken removes the reset token after use.
func (s *Store) DeleteResetToken(ctx context.Context, identifier string) error {
	if err := s.redis.Del(ctx, resetPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping returns Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
