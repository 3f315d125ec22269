package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/depletions_backend/config"
)

var (
	ErrSourceBusy     = errors.New("another batch for this source is still running")
	ErrSourceLockLost = errors.New("ingest lock for this source was lost")
)

var localLocks sync.Map // source -> chan struct{}

func localLock(source string) chan struct{} {
	ch, _ := localLocks.LoadOrStore(source, make(chan struct{}, 1))
	return ch.(chan struct{})
}

// SourceLock holds the ingestion lock for source until release is called.
// It waits up to ttl for a running batch to finish. Redis is used when it is
// connected so instances share the lock; otherwise the lock is per process.
//
// The returned context is cancelled with ErrSourceLockLost as its cause when
// the Redis lock can no longer be kept; the batch must stop writing then.
func SourceLock(ctx context.Context, source string, ttl time.Duration, moduleName string, functionName string) (context.Context, func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		release, err := obtainLocalLock(ctx, source, ttl)
		return ctx, release, err
	}

	lockKey := fmt.Sprintf("ingest:%s", source)
	lock, err := locker.Obtain(ctx, lockKey, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), int(ttl/(250*time.Millisecond))),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogError(logger, moduleName, functionName, "Could not obtain ingest lock", source, err)
		return nil, nil, ErrSourceBusy
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining ingest lock", source, err)
		return nil, nil, err
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-lockCtx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(lockCtx, ttl, nil); err != nil {
					config.LogError(logger, moduleName, functionName, "Error refreshing ingest lock", source, err)
					cancel(ErrSourceLockLost)
					return
				}
			}
		}
	}()

	var once sync.Once
	return lockCtx, func() {
		once.Do(func() {
			close(done)
			cancel(nil)
			// the job context may already be cancelled
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.LogError(logger, moduleName, functionName, "Error releasing ingest lock", source, err)
			}
		})
	}, nil
}

// LockLost reports whether ctx was cancelled because its source lock expired.
func LockLost(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSourceLockLost)
}

func obtainLocalLock(ctx context.Context, source string, ttl time.Duration) (func(), error) {
	ch := localLock(source)
	timer := time.NewTimer(ttl)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timer.C:
		return nil, ErrSourceBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
