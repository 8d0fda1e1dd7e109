package revocation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSet implements Set against a shared Redis instance so revocation is
// visible across every AgentGuard process immediately, per §5's
// shared-resource policy for the revocation set.
type RedisSet struct {
	client *redis.Client
}

func NewRedisSet(addr, password string, db int) *RedisSet {
	return &RedisSet{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func key(jti string) string { return "revoked:" + jti }

func (s *RedisSet) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already naturally expired; nothing to revoke, but treat as
		// success since the effect (token unusable) already holds.
		return nil
	}
	return s.client.SetNX(ctx, key(jti), expiresAt.Unix(), ttl).Err()
}

func (s *RedisSet) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Sweep is a no-op: Redis TTL expiry already removes tombstones at their
// natural expiry, satisfying the "never remove before expiry" invariant
// without an explicit sweeper.
func (s *RedisSet) Sweep(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}
