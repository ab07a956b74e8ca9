package ratelimit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeySemaphoreCapsInflight(t *testing.T) {
	t.Parallel()

	sem := NewKeySemaphore(2)
	var inflight int32
	var maxSeen int32

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			release := sem.Acquire("spapi:jp")
			defer release()

			cur := atomic.AddInt32(&inflight, 1)
			for {
				prev := atomic.LoadInt32(&maxSeen)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			done <- struct{}{}
		}()
	}

	for i := 0; i < 8; i++ {
		<-done
	}

	require.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

func TestKeySemaphoreIndependentKeys(t *testing.T) {
	t.Parallel()

	sem := NewKeySemaphore(1)
	releaseA := sem.Acquire("a")
	defer releaseA()

	acquired := make(chan struct{}, 1)
	go func() {
		release := sem.Acquire("b")
		defer release()
		acquired <- struct{}{}
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquiring a different key should not block on key a's semaphore")
	}
}
