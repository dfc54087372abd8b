package observe

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCounterEmitsOnSubscribe(t *testing.T) {
	// WHAT: A new subscriber immediately receives the current value.
	// WHY: UI panels render a count before any mutation happens.
	c := NewCounter(42)
	ch, cancel := c.Subscribe()
	defer cancel()

	select {
	case v := <-ch:
		if v != 42 {
			t.Errorf("initial: got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial emission")
	}
}

func TestCounterCoalesces(t *testing.T) {
	// WHAT: A slow subscriber sees the latest value, not every intermediate.
	// WHY: Emissions must never block the committing writer.
	c := NewCounter(0)
	ch, cancel := c.Subscribe()
	defer cancel()

	for i := 1; i <= 100; i++ {
		c.Set(int64(i))
	}

	var last int64
	for {
		select {
		case v := <-ch:
			last = v
			if last == 100 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("never observed 100, last=%d", last)
		}
	}
}

func TestCounterMonotoneUnderInserts(t *testing.T) {
	// WHAT: Under Add-only traffic every observed value is non-decreasing.
	// WHY: Row counts under insert-only workloads never go backwards.
	c := NewCounter(0)
	ch, cancel := c.Subscribe()

	done := make(chan struct{})
	var prev int64 = -1
	go func() {
		defer close(done)
		for v := range ch {
			if v < prev {
				t.Errorf("regressed: %d after %d", v, prev)
			}
			prev = v
		}
	}()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 250 {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done

	if c.Value() != 1000 {
		t.Errorf("final value: got %d, want 1000", c.Value())
	}
}

func TestCounterCancelIdempotent(t *testing.T) {
	// WHAT: Calling the subscription cancel func twice is safe.
	// WHY: Teardown paths often run more than once.
	c := NewCounter(0)
	_, cancel := c.Subscribe()
	cancel()
	cancel()
}

func TestThrottledLatestWins(t *testing.T) {
	// WHAT: Rapid posts deliver only the final producer's result.
	// WHY: Intermediate filter states must not repaint stale data.
	var mu sync.Mutex
	var got []int

	th := NewThrottled[int](func(v int, err error) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	block := make(chan struct{})
	th.Post(func(ctx context.Context) (int, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return 1, ctx.Err()
	})
	th.Post(func(ctx context.Context) (int, error) {
		return 2, nil
	})
	close(block)
	th.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("delivered %v, want [2]", got)
	}
}

func TestThrottledStopCancels(t *testing.T) {
	// WHAT: Stop cancels the in-flight run and waits for it.
	// WHY: Shutdown must not leak producer goroutines.
	delivered := make(chan int, 1)
	th := NewThrottled[int](func(v int, err error) { delivered <- v })

	started := make(chan struct{})
	th.Post(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 7, ctx.Err()
	})
	<-started
	th.Stop()

	select {
	case v := <-delivered:
		t.Errorf("cancelled run delivered %d", v)
	default:
	}
}
