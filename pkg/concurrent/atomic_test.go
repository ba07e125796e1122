package concurrent

import (
	"sync"
	"testing"
)

func TestAtomicLimiterBoundary(t *testing.T) {
	l, _ := NewAtomicLimiter(2)
	if ok, _ := l.Acquire(); !ok {
		t.Fatal("first acquire refused")
	}
	if ok, _ := l.Acquire(); !ok {
		t.Fatal("second acquire refused")
	}
	if ok, n := l.Acquire(); ok || n != 2 {
		t.Fatalf("third acquire should be refused at count 2, got ok=%v n=%d", ok, n)
	}
	l.Release()
	if ok, _ := l.Acquire(); !ok {
		t.Fatal("acquire after release refused")
	}
}

func TestAtomicLimiterDisabled(t *testing.T) {
	l, _ := NewAtomicLimiter(0)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Acquire(); !ok {
			t.Fatal("disabled limiter refused")
		}
	}
	if l.Count() != 100 {
		t.Fatalf("count %d", l.Count())
	}
}

func TestAtomicLimiterConcurrent(t *testing.T) {
	l, _ := NewAtomicLimiter(50)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Acquire(); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 50 || l.Count() != 50 {
		t.Fatalf("granted %d, count %d, want 50", granted, l.Count())
	}
}

func TestAtomicLimiterReset(t *testing.T) {
	l, _ := NewAtomicLimiter(1)
	if ok, _ := l.Acquire(); !ok {
		t.Fatal("first acquire refused")
	}
	if ok, _ := l.Acquire(); ok {
		t.Fatal("acquire above the limit")
	}
	l.Reset(2)
	if ok, _ := l.Acquire(); !ok {
		t.Fatal("acquire refused after raising the limit")
	}
	l.Reset(1)
	if ok, _ := l.Acquire(); ok || l.Count() != 2 {
		t.Fatalf("lowered limit: count %d", l.Count())
	}
	l.Reset(0)
	if ok, _ := l.Acquire(); !ok {
		t.Fatal("reset to 0 must disable the cap")
	}
}
