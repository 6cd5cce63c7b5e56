package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestUserLocks_SerializesSameKey(t *testing.T) {
	l := newUserLocks()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.acquire(context.Background(), "alice")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most 1 holder, saw %d", maxInside)
	}
	if n := l.size(); n != 0 {
		t.Errorf("expected lock table to drain, got %d entries", n)
	}
}

func TestUserLocks_DifferentKeysDoNotBlock(t *testing.T) {
	l := newUserLocks()
	releaseA, err := l.acquire(context.Background(), "alice")
	if err != nil {
		t.Fatalf("acquire alice: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := l.acquire(ctx, "bob")
	if err != nil {
		t.Fatalf("bob must not wait on alice: %v", err)
	}
	releaseB()
}

func TestUserLocks_ContextCancelled(t *testing.T) {
	l := newUserLocks()
	release, err := l.acquire(context.Background(), "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(ctx, "alice"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	release() // second call is a no-op
	if n := l.size(); n != 0 {
		t.Errorf("expected lock table to drain, got %d entries", n)
	}
}
