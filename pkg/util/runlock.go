package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const runLockKey = "mailsched:run_lock"

// RunLock serializes evaluation passes across processes. The (due, sent)
// check-then-set sequence is not safe under concurrent passes, so whoever
// triggers a pass must hold this lock for its duration.
type RunLock struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRunLock(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RunLock {
	return &RunLock{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// TryAcquire attempts to take the pass lock. Returns false if another pass
// is already running. If redis is unavailable the pass is allowed through:
// a missed mutual exclusion degrades to the source's documented
// at-least-once behavior, while blocking all passes would stop mail
// entirely.
func (l *RunLock) TryAcquire(ctx context.Context) bool {
	ok, err := l.rdb.SetNX(ctx, runLockKey, 1, l.ttl).Result()
	if err != nil {
		l.logger.Warn("Run lock check failed, allowing pass",
			zap.Error(err),
		)
		return true
	}

	if !ok {
		l.logger.Info("Another evaluation pass holds the lock, skipping",
			zap.String("lock_key", runLockKey),
		)
	}

	return ok
}

// Release frees the pass lock. The TTL bounds how long a crashed process
// can keep the lock.
func (l *RunLock) Release(ctx context.Context) {
	if err := l.rdb.Del(ctx, runLockKey).Err(); err != nil {
		l.logger.Warn("Failed to release run lock", zap.Error(err))
	}
}
