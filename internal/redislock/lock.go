package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("subject lock not acquired")
)

// SubjectLocker guards reconciliation of one subject's appointments. The
// linker holds the lock while it regroups a subject's dangling rows so two
// overlapping passes cannot build duplicate bookings from the same rows.
type SubjectLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSubjectLocker(client *redis.Client, ttl time.Duration) *SubjectLocker {
	return &SubjectLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *SubjectLocker) WithSubjectLock(ctx context.Context, subjectID int64, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:subject:%d", subjectID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire subject lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *SubjectLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release subject lock: %w", err)
	}
	return nil
}
