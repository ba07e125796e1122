package concurrent

import (
	"sync/atomic"
)

// AtomicLimiter caps a count of live resources. A max of 0 disables the cap.
type AtomicLimiter struct {
	max    int64
	count  int64
	enable int64
}

func NewAtomicLimiter(maxCocurrent int64) (*AtomicLimiter, error) {
	var enable int64 = 1
	if maxCocurrent <= 0 {
		maxCocurrent = 0
		enable = 0
	}

	return &AtomicLimiter{
		max:    maxCocurrent,
		enable: enable,
		count:  0,
	}, nil
}

// Acquire takes one slot. It returns false, leaving the count untouched,
// when the limit has been reached.
func (b *AtomicLimiter) Acquire() (bool, int64) {
	for {
		nowN := atomic.LoadInt64(&b.count)
		if atomic.LoadInt64(&b.enable) == 1 && nowN >= atomic.LoadInt64(&b.max) {
			return false, nowN
		}
		if atomic.CompareAndSwapInt64(&b.count, nowN, nowN+1) {
			return true, nowN
		}
	}
}

// Reset changes the limit. Slots already held are kept even above the new limit.
// A limit of 0 disables the cap.
func (b *AtomicLimiter) Reset(limit int64) {
	if limit <= 0 {
		atomic.StoreInt64(&b.enable, 0)
		limit = 0
	} else {
		atomic.StoreInt64(&b.enable, 1)
	}
	atomic.StoreInt64(&b.max, limit)
}

func (b *AtomicLimiter) Release() {
	atomic.AddInt64(&b.count, -1)
}

func (b *AtomicLimiter) Count() int64 {
	return atomic.LoadInt64(&b.count)
}
