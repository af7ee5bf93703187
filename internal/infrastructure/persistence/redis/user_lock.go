package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/pkg/circuitbreaker"
	"github.com/redmansion/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER LOCK
// A per-user mutex shared by every engine instance. It only narrows the
// window in which two instances race on a user; correctness still rests on
// the store transaction, so callers may proceed when the lock is unavailable.
// ══════════════════════════════════════════════════════════════════════════════

// ErrLockTimeout is returned when another holder kept the lock for the whole
// wait window.
var ErrLockTimeout = errors.New("redis: user lock wait timed out")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLockConfig tunes the lock.
type UserLockConfig struct {
	// TTL bounds how long a crashed holder can block a user.
	TTL time.Duration

	// WaitTimeout is how long Lock polls before giving up.
	WaitTimeout time.Duration

	// RetryInterval is the delay between acquisition attempts.
	RetryInterval time.Duration
}

// DefaultUserLockConfig returns the default lock tuning.
func DefaultUserLockConfig() UserLockConfig {
	return UserLockConfig{
		TTL:           10 * time.Second,
		WaitTimeout:   2 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

// UserLock implements progression.UserLocker with SET NX PX.
type UserLock struct {
	rdb     redis.UniversalClient
	keys    Keys
	cfg     UserLockConfig
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

var _ progression.UserLocker = (*UserLock)(nil)

// NewUserLock creates a lock on top of client.
func NewUserLock(client *Client, cfg UserLockConfig, log *logger.Logger) *UserLock {
	def := DefaultUserLockConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("user_lock"))

	return &UserLock{
		rdb:  client.rdb,
		keys: client.keys,
		cfg:  cfg,
		log:  log,
		breaker: circuitbreaker.UserLockBreaker(isLockFailure, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	}
}

// Lock implements progression.UserLocker. It returns circuitbreaker.ErrCircuitOpen
// without touching Redis while the breaker is open.
func (l *UserLock) Lock(ctx context.Context, userID string) (func(), error) {
	if userID == "" {
		return nil, ErrEmptyKey
	}

	key := l.keys.UserLock(userID)
	token := uuid.NewString()

	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		return l.acquire(ctx, key, token)
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}, nil
}

func (l *UserLock) acquire(ctx context.Context, key, token string) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.WaitTimeout)
	defer cancel()

	for {
		ok, err := l.rdb.SetNX(waitCtx, key, token, l.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return ErrLockTimeout
			}
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrLockTimeout
		case <-time.After(l.cfg.RetryInterval):
		}
	}
}

func (l *UserLock) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WaitTimeout)
	defer cancel()

	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
		// The key expires after TTL anyway.
		l.log.Warn("failed to release user lock", logger.String("key", key), logger.Err(err))
	}
}

// isLockFailure counts only Redis faults against the breaker. Contention and
// caller cancellation say nothing about Redis health.
func isLockFailure(err error) bool {
	return !errors.Is(err, ErrLockTimeout) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
