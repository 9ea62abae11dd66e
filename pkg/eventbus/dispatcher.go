package eventbus

import (
	"context"
	"sync"
)

// Dispatcher decouples publishers from delivery with a bounded queue and a
// fixed set of drain workers. Enqueue never blocks: a full queue drops the
// event rather than stalling the caller.
type Dispatcher[T any] struct {
	queue  chan T
	bus    *Bus[T]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher[T any](bus *Bus[T], workers, queueSize int) *Dispatcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher[T]{
		queue:  make(chan T, queueSize),
		bus:    bus,
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.drain()
	}

	return d
}

// Enqueue queues an event for delivery, dropping it when the queue is full
// or the dispatcher is shutting down.
func (d *Dispatcher[T]) Enqueue(event T) {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	select {
	case d.queue <- event:
	default:
	}
}

func (d *Dispatcher[T]) drain() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.bus.Publish(event)
		case <-d.ctx.Done():
			return
		}
	}
}

// Shutdown stops the workers and waits for them to exit. Events still queued
// are dropped. The queue is never closed so a producer racing the shutdown
// cannot panic on a closed channel.
func (d *Dispatcher[T]) Shutdown() {
	d.cancel()
	d.wg.Wait()
}
