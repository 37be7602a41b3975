package store

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock could not be taken before the
// context ended or the acquisition timed out.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker serializes work on a key across goroutines or processes.
type Locker interface {
	// Acquire blocks until the key is held or ctx ends. The returned release
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
