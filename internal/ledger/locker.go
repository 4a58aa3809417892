package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes work for a single founder. Locks for different founders
// never block each other.
type Locker interface {
	Lock(ctx context.Context, founderID string) (unlock func(), err error)
}

// LocalLocker keeps one lock per founder id inside the process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(id string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[id] = s
	}
	return s
}

// Lock blocks until the founder's lock is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, founderID string) (func(), error) {
	s := l.slot(founderID)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire founder lock %s: %w", founderID, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}, nil
}

// RedisLocker serializes a founder across service instances with the
// RedLock algorithm.
type RedisLocker struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
	logger     *zap.Logger
}

// DefaultLockExpiry must outlast the bank and blockchain timeouts combined.
const DefaultLockExpiry = 60 * time.Second

func NewRedisLocker(client redis.UniversalClient, expiry time.Duration, logger *zap.Logger) *RedisLocker {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		logger:     logger,
		rs:         redsync.New(goredis.NewPool(client)),
		expiry:     expiry,
		tries:      64,
		retryDelay: 250 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, founderID string) (func(), error) {
	m := l.rs.NewMutex("lock:founder:"+founderID,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.retryDelay),
	)
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire founder lock %s: %w", founderID, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be cancelled here
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ok, err := m.UnlockContext(ctx); err != nil || !ok {
				l.logger.Warn("founder lock was not held or already expired",
					zap.String("founder_id", founderID), zap.Error(err))
			}
		})
	}, nil
}
