package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"satshunt/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// ChallengeStore implements ports.ChallengeStore using Redis. Challenges
// are single use: Take removes the key atomically with GETDEL.
type ChallengeStore struct {
	client *goredis.Client
	prefix string
}

// NewChallengeStore creates a new Redis-backed challenge store.
func NewChallengeStore(client *goredis.Client) *ChallengeStore {
	return &ChallengeStore{
		client: client,
		prefix: "challenge:",
	}
}

// Put stores a challenge under its k1 with the given TTL.
func (s *ChallengeStore) Put(ctx context.Context, ch *domain.WithdrawChallenge, ttl time.Duration) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+ch.K1, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis challenge set: %w", err)
	}
	return nil
}

// Take atomically fetches and deletes the challenge. Returns nil when the
// k1 is unknown, expired or already consumed.
func (s *ChallengeStore) Take(ctx context.Context, k1 string) (*domain.WithdrawChallenge, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+k1).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis challenge getdel: %w", err)
	}

	var ch domain.WithdrawChallenge
	if err := json.Unmarshal(payload, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return &ch, nil
}
