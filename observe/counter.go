// Package observe provides the reactive plumbing between the archive and
// its consumers: hot row-count observables and latest-wins throttled tasks.
//
// Both primitives are channel/mutex based so receivers can be drained from
// any goroutine or executor the embedding shell chooses.
package observe

import "sync"

// Counter is a hot observable over an int64 row count. Subscribers receive
// the current value immediately and every subsequent Set. Emissions are
// serialized under one lock, so for an insert-only workload each subscriber
// observes a non-decreasing sequence.
//
// Subscriber channels have capacity one and coalesce: a slow receiver only
// ever sees the latest value, and a Set never blocks the committing writer.
type Counter struct {
	mu    sync.Mutex
	value int64
	subs  map[int]chan int64
	next  int
}

// NewCounter creates a Counter starting at v.
func NewCounter(v int64) *Counter {
	return &Counter{value: v, subs: make(map[int]chan int64)}
}

// Value returns the last published value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set publishes a new value to all subscribers.
func (c *Counter) Set(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	for _, ch := range c.subs {
		send(ch, v)
	}
}

// Add publishes value+delta. Convenient for repositories that know how many
// rows a commit touched without re-counting.
func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += delta
	for _, ch := range c.subs {
		send(ch, c.value)
	}
}

// Subscribe registers a new observer. The returned channel immediately
// carries the current value. The cancel func removes the subscription and
// closes the channel; it is safe to call more than once.
func (c *Counter) Subscribe() (<-chan int64, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan int64, 1)
	ch <- c.value
	id := c.next
	c.next++
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// send delivers v on a capacity-1 channel, displacing a stale value if the
// receiver has not caught up.
func send(ch chan int64, v int64) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
