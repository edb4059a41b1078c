package messaging

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrDraining = errors.New("channel draining")
	ErrClosed   = errors.New("channel closed")
	ErrFull     = errors.New("queue full")
)

// DefaultCapacity bounds each (kind, target) queue.
const DefaultCapacity = 256

type phase uint8

const (
	phaseOpen phase = iota
	phaseDraining
	phaseClosed
)

// Stats counts traffic for one kind.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Channel is a multi-producer, multi-consumer mailbox keyed by Address.
// Send never blocks.
type Channel struct {
	mu       sync.Mutex
	queues   map[Address][]Message
	capacity int
	phase    phase
	wake     chan struct{} // closed and replaced on every send
	stats    map[Kind]*Stats
}

// New creates an open channel. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		queues:   make(map[Address][]Message),
		capacity: capacity,
		wake:     make(chan struct{}),
		stats: map[Kind]*Stats{
			KindInformantReport: {},
			KindArrestOrder:     {},
			KindStatusUpdate:    {},
		},
	}
}

func (c *Channel) statsFor(k Kind) *Stats {
	st, ok := c.stats[k]
	if !ok {
		st = &Stats{}
		c.stats[k] = st
	}
	return st
}

// Send enqueues m. It fails fast instead of blocking: once draining has begun
// or the queue is at capacity the message is dropped.
func (c *Channel) Send(m Message) error {
	addr := m.Address()

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.statsFor(addr.Kind)

	switch c.phase {
	case phaseDraining:
		st.Dropped++
		return ErrDraining
	case phaseClosed:
		st.Dropped++
		return ErrClosed
	}
	if len(c.queues[addr]) >= c.capacity {
		st.Dropped++
		return ErrFull
	}

	c.queues[addr] = append(c.queues[addr], m)
	st.Sent++
	close(c.wake)
	c.wake = make(chan struct{})
	return nil
}

// TryReceive pops the oldest message at addr. ok is false when the queue is
// empty; err is non-nil only when the channel is closed.
func (c *Channel) TryReceive(addr Address) (Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.popLocked(addr)
	if !ok && c.phase == phaseClosed {
		return nil, false, ErrClosed
	}
	return m, ok, nil
}

func (c *Channel) popLocked(addr Address) (Message, bool) {
	q := c.queues[addr]
	if len(q) == 0 {
		return nil, false
	}
	m := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(c.queues, addr)
	} else {
		c.queues[addr] = q[1:]
	}
	c.statsFor(addr.Kind).Delivered++
	return m, true
}

// Receive blocks until a message arrives at addr, ctx ends, or the channel
// stops accepting traffic.
func (c *Channel) Receive(ctx context.Context, addr Address) (Message, error) {
	for {
		c.mu.Lock()
		if m, ok := c.popLocked(addr); ok {
			c.mu.Unlock()
			return m, nil
		}
		switch c.phase {
		case phaseDraining:
			c.mu.Unlock()
			return nil, ErrDraining
		case phaseClosed:
			c.mu.Unlock()
			return nil, ErrClosed
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns how many messages wait at addr.
func (c *Channel) Pending(addr Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[addr])
}

// Drain stops accepting messages and discards everything queued. It returns
// the number of discarded messages.
func (c *Channel) Drain() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseOpen {
		c.phase = phaseDraining
		close(c.wake)
		c.wake = make(chan struct{})
	}
	n := 0
	for addr, q := range c.queues {
		n += len(q)
		c.statsFor(addr.Kind).Dropped += uint64(len(q))
		delete(c.queues, addr)
	}
	return n
}

// Close releases the channel. It reports whether this call closed it.
func (c *Channel) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return false
	}
	c.phase = phaseClosed
	c.queues = make(map[Address][]Message)
	close(c.wake)
	c.wake = make(chan struct{})
	return true
}

// Stats returns a copy of the per-kind traffic counters.
func (c *Channel) Stats() map[Kind]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Kind]Stats, len(c.stats))
	for k, st := range c.stats {
		out[k] = *st
	}
	return out
}
