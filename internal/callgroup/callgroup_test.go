package callgroup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduplication(t *testing.T) {
	var g Group[string, int]
	var calls atomic.Int32
	started := make(chan struct{})

	fn := func() (int, error) {
		calls.Add(1)
		close(started)
		time.Sleep(50 * time.Millisecond)
		return 42, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]Result[int], n)

	// First caller starts the work.
	wg.Go(func() {
		results[0] = <-g.DoChan("coll", fn)
	})

	// Wait for fn to start, then pile on.
	<-started
	for i := 1; i < n; i++ {
		wg.Go(func() {
			results[i] = <-g.DoChan("coll", fn)
		})
	}

	wg.Wait()

	for i, r := range results {
		if r.Err != nil {
			t.Errorf("caller %d got error: %v", i, r.Err)
		}
		if r.Val != 42 {
			t.Errorf("caller %d got %d, want 42", i, r.Val)
		}
		if r.Shared != (i != 0) {
			t.Errorf("caller %d: Shared = %v", i, r.Shared)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}
}

func TestIndependentKeys(t *testing.T) {
	var g Group[string, struct{}]
	var calls atomic.Int32

	fn := func() (struct{}, error) {
		calls.Add(1)
		return struct{}{}, nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Go(func() {
			<-g.DoChan(key, fn)
		})
	}

	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("fn called %d times, want 3", got)
	}
}

func TestErrorPropagation(t *testing.T) {
	var g Group[string, string]
	sentinel := errors.New("failed")
	started := make(chan struct{})

	ch1 := g.DoChan("x", func() (string, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "", sentinel
	})
	<-started

	ch2 := g.DoChan("x", func() (string, error) {
		t.Error("should not execute")
		return "", nil
	})

	r1 := <-ch1
	r2 := <-ch2

	if !errors.Is(r1.Err, sentinel) {
		t.Errorf("caller 1: got %v, want %v", r1.Err, sentinel)
	}
	if !errors.Is(r2.Err, sentinel) {
		t.Errorf("caller 2: got %v, want %v", r2.Err, sentinel)
	}
}

func TestReuseAfterCompletion(t *testing.T) {
	var g Group[string, int]
	var calls atomic.Int32

	fn := func() (int, error) {
		return int(calls.Add(1)), nil
	}

	v, err, shared := g.Do("x", fn)
	if err != nil || shared || v != 1 {
		t.Fatalf("first call: v=%d err=%v shared=%v", v, err, shared)
	}

	// Second call for same key should trigger a new execution.
	v, err, shared = g.Do("x", fn)
	if err != nil || shared || v != 2 {
		t.Fatalf("second call: v=%d err=%v shared=%v", v, err, shared)
	}
}
