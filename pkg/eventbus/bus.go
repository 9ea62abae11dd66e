// Package eventbus is a small pub/sub used to fan engine events
// (cache-protection triggers, fetch completions) out to observers without
// coupling the fetch path to them.
package eventbus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Bus delivers events to every live subscriber. Slow subscribers never block
// a publish: when a subscriber's buffer is full the event is dropped for that
// subscriber and counted.
type Bus[T any] struct {
	subs       *xsync.Map[string, *sub[T]]
	closed     atomic.Bool
	seq        atomic.Uint64
	janitor    *time.Ticker
	stopSweep  chan struct{}
	bufferSize int
}

// sub guards its channel with a mutex so a publish racing a detach can never
// send on a closed channel.
type sub[T any] struct {
	id       string
	mu       sync.Mutex
	ch       chan T
	closed   bool
	lastSeen atomic.Int64
	dropped  atomic.Uint64
	live     atomic.Bool
}

// send delivers without blocking. Returns false when the buffer is full or
// the subscriber is already closed; only the full-buffer case counts as a
// drop.
func (s *sub[T]) send(event T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *sub[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.live.Store(false)
		close(s.ch)
	}
}

// Config tunes subscriber buffers and the idle-subscriber sweep.
type Config struct {
	BufferSize int
	SweepEvery time.Duration
	IdleAfter  time.Duration
}

var DefaultConfig = Config{
	BufferSize: 100,
	SweepEvery: 5 * time.Minute,
	IdleAfter:  10 * time.Minute,
}

func New[T any]() *Bus[T] {
	return NewWithConfig[T](DefaultConfig)
}

func NewWithConfig[T any](cfg Config) *Bus[T] {
	b := &Bus[T]{
		subs:       xsync.NewMap[string, *sub[T]](),
		bufferSize: cfg.BufferSize,
		stopSweep:  make(chan struct{}),
	}

	if cfg.SweepEvery > 0 {
		b.janitor = time.NewTicker(cfg.SweepEvery)
		go b.sweepLoop(cfg.IdleAfter)
	}

	return b
}

// Subscribe registers a new subscriber. The returned cancel func detaches it;
// cancelling the context does the same.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.closed.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub-" + strconv.FormatUint(b.seq.Add(1), 10)
	s := &sub[T]{id: id, ch: make(chan T, b.bufferSize)}
	s.lastSeen.Store(time.Now().UnixNano())
	s.live.Store(true)

	b.subs.Store(id, s)

	go func() {
		<-ctx.Done()
		b.detach(id)
	}()

	return s.ch, func() { b.detach(id) }
}

// Publish delivers the event to every live subscriber and reports how many
// actually received it.
func (b *Bus[T]) Publish(event T) int {
	if b.closed.Load() {
		return 0
	}

	delivered := 0
	now := time.Now().UnixNano()

	b.subs.Range(func(_ string, s *sub[T]) bool {
		if !s.live.Load() {
			return true
		}
		if s.send(event) {
			s.lastSeen.Store(now)
			delivered++
		}
		return true
	})

	return delivered
}

// PublishAsync hands the delivery off to a goroutine.
func (b *Bus[T]) PublishAsync(event T) {
	if b.closed.Load() {
		return
	}
	go b.Publish(event)
}

// Shutdown closes every subscriber channel. Publishes after shutdown are
// silently dropped.
func (b *Bus[T]) Shutdown() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	if b.janitor != nil {
		b.janitor.Stop()
		close(b.stopSweep)
	}

	b.subs.Range(func(_ string, s *sub[T]) bool {
		s.close()
		return true
	})
	b.subs.Clear()
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Subscribers int
	Live        int
	Dropped     uint64
	Closed      bool
}

func (b *Bus[T]) Stats() Stats {
	st := Stats{Closed: b.closed.Load()}
	if st.Closed {
		return st
	}

	b.subs.Range(func(_ string, s *sub[T]) bool {
		st.Subscribers++
		if s.live.Load() {
			st.Live++
		}
		st.Dropped += s.dropped.Load()
		return true
	})
	return st
}

func (b *Bus[T]) detach(id string) {
	if s, ok := b.subs.LoadAndDelete(id); ok {
		s.close()
	}
}

func (b *Bus[T]) sweepLoop(idleAfter time.Duration) {
	for {
		select {
		case <-b.stopSweep:
			return
		case <-b.janitor.C:
			b.sweepIdle(idleAfter)
		}
	}
}

// sweepIdle detaches subscribers that have not taken an event recently.
func (b *Bus[T]) sweepIdle(idleAfter time.Duration) {
	cutoff := time.Now().Add(-idleAfter).UnixNano()
	var stale []string

	b.subs.Range(func(id string, s *sub[T]) bool {
		if !s.live.Load() || s.lastSeen.Load() < cutoff {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		b.detach(id)
	}
}
