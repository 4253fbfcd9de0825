package usecase

import (
	"sync"
	"testing"
)

func TestClaimLocksSerializeSameClaim(t *testing.T) {
	locks := newClaimLocks()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.acquire("claim-1")
			defer unlock()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Fatalf("expected exclusive access per claim, saw %d concurrent holders", maxInCritical)
	}
}

func TestClaimLocksReleaseEntries(t *testing.T) {
	locks := newClaimLocks()

	unlock := locks.acquire("claim-1")
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entry) != 0 {
		t.Fatalf("expected lock table to empty out, got %d entries", len(locks.entry))
	}
}

func TestClaimLocksIndependentClaims(t *testing.T) {
	locks := newClaimLocks()

	unlockA := locks.acquire("claim-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.acquire("claim-b")
		unlockB()
		close(done)
	}()

	<-done
}
