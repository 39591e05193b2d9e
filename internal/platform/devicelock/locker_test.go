package devicelock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	locker := New()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("device-1")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if locker.Len() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", locker.Len())
	}
}

func TestLockIndependentKeys(t *testing.T) {
	locker := New()
	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
	unlockA()
	if locker.Len() != 0 {
		t.Fatalf("expected no entries, got %d", locker.Len())
	}
}
