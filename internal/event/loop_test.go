package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLoop_DrainRunsInOrder(t *testing.T) {
	loop := NewLoop(nil)

	var got []int
	for i := 0; i < 5; i++ {
		loop.Post(func() { got = append(got, i) })
	}
	if loop.Pending() != 5 {
		t.Errorf("Pending() = %d, want 5", loop.Pending())
	}

	if n := loop.Drain(); n != 5 {
		t.Errorf("Drain() = %d, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got = %v, want ascending", got)
		}
	}
}

func TestLoop_DrainIncludesNestedPosts(t *testing.T) {
	loop := NewLoop(nil)

	var got []string
	loop.Post(func() {
		got = append(got, "outer")
		loop.Post(func() { got = append(got, "inner") })
	})

	if n := loop.Drain(); n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if len(got) != 2 || got[1] != "inner" {
		t.Errorf("got = %v", got)
	}
}

func TestLoop_PostAfterClose(t *testing.T) {
	loop := NewLoop(nil)
	loop.Close()
	loop.Close()

	if loop.Post(func() {}) {
		t.Error("Post after Close should return false")
	}
	if loop.Post(nil) {
		t.Error("Post(nil) should return false")
	}
}

func TestLoop_PanicDoesNotStopQueue(t *testing.T) {
	loop := NewLoop(nil)

	ran := false
	loop.Post(func() { panic("boom") })
	loop.Post(func() { ran = true })
	loop.Drain()

	if !ran {
		t.Error("closure after a panic should still run")
	}
}

func TestLoop_RunSingleGoroutine(t *testing.T) {
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		total   int
	)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Post(func() {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				total++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	finished := make(chan struct{})
	loop.Post(func() { close(finished) })
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not process closures")
	}

	loop.Close()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil after Close", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("closures ran concurrently")
	}
	if total != 20 {
		t.Errorf("total = %d, want 20", total)
	}
}

func TestLoop_RunStopsOnContext(t *testing.T) {
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if loop.Post(func() {}) {
		t.Error("Post after context cancel should return false")
	}
}

func TestDispatcherFunc(t *testing.T) {
	var d Dispatcher = DispatcherFunc(func(fn func()) bool {
		fn()
		return true
	})
	ran := false
	if !d.Post(func() { ran = true }) || !ran {
		t.Error("DispatcherFunc should forward to the function")
	}
}
