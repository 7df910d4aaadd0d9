package store

import (
	"sync/atomic"
	"time"
)

var lastStamp int64

// nextStamp returns a strictly increasing unix-millisecond timestamp, so
// server-assigned updatedAt values stay monotonic even for writes landing
// inside the same millisecond.
func nextStamp() int64 {
	for {
		now := time.Now().UnixMilli()
		last := atomic.LoadInt64(&lastStamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastStamp, last, now) {
			return now
		}
	}
}
