package extraction

import (
	"sync"
	"testing"
)

// TestKeyedLockExclusive 同一 key 第二次获取被拒绝
func TestKeyedLockExclusive(t *testing.T) {
	l := NewKeyedLock()

	if !l.TryAcquire("doc-1") {
		t.Fatal("first acquire should succeed")
	}
	if l.TryAcquire("doc-1") {
		t.Fatal("second acquire on held key should fail")
	}
	if !l.TryAcquire("doc-2") {
		t.Fatal("different key should be independent")
	}

	l.Release("doc-1")
	if !l.TryAcquire("doc-1") {
		t.Fatal("acquire after release should succeed")
	}
}

// TestKeyedLockReleaseUnheld 释放未持有的 key 无副作用
func TestKeyedLockReleaseUnheld(t *testing.T) {
	l := NewKeyedLock()
	l.Release("never-held")

	if !l.TryAcquire("never-held") {
		t.Fatal("acquire should succeed after spurious release")
	}
}

// TestKeyedLockConcurrent 并发争抢同一 key，恰好一个成功
func TestKeyedLockConcurrent(t *testing.T) {
	l := NewKeyedLock()

	const goroutines = 50
	var wg sync.WaitGroup
	acquired := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire("doc-1") {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	count := 0
	for range acquired {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 successful acquire, got %d", count)
	}
}
