package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Locker hands out time-bounded uniqueness locks
type Locker struct {
	store Store
}

// NewLocker creates a Locker on top of store
func NewLocker(store Store) *Locker {
	return &Locker{store: store}
}

// Acquire takes the lock for key until ttl elapses or the returned release is called.
// Returns ErrLockHeld when another owner has it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key

	ok, err := l.store.SetNX(ctx, lockKey, []byte(token), ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// only the owner may release; an expired lock may already belong to someone else
		current, err := l.store.Get(context.Background(), lockKey)
		if err != nil || string(current) != token {
			return
		}
		if err := l.store.Delete(context.Background(), lockKey); err != nil {
			logrus.WithError(err).WithField("lock", key).Warn("Failed to release lock")
		}
	}
	return release, nil
}
