package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var counter, max, active int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "order-1")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			active++
			if active > max {
				max = active
			}
			counter++
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Errorf("expected 20 critical sections, got %d", counter)
	}
	if max != 1 {
		t.Errorf("expected at most 1 concurrent holder, got %d", max)
	}
}

func TestKeyedMutex_ContextCancellation(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "order-2")
	if err != nil {
		t.Fatalf("initial lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Lock(ctx, "order-2"); err == nil {
		t.Fatal("expected context error while lock held")
	}

	unlock()

	unlock2, err := m.Lock(context.Background(), "order-2")
	if err != nil {
		t.Fatalf("lock after release failed: %v", err)
	}
	unlock2()
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := m.Lock(ctx, "order-a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	// "order-b" may share a shard with "order-a"; find a key that doesn't.
	for _, key := range []string{"order-b", "order-c", "order-d", "order-e"} {
		if m.shardIdx(key) == m.shardIdx("order-a") {
			continue
		}
		unlockB, err := m.Lock(ctx, key)
		if err != nil {
			t.Fatalf("lock %s: %v", key, err)
		}
		unlockB()
		return
	}
	t.Skip("no non-colliding key found")
}
