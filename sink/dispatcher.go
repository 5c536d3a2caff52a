// Package sink holds the collaborators that persist or forward simulation
// records. None of them can influence the simulation: failures are logged
// and swallowed.
package sink

import (
	"sync"
	"sync/atomic"

	"github.com/dominant-strategies/go-quai/event"
	log "github.com/sirupsen/logrus"

	"github.com/shreekarashastry/blocksim/record"
)

// Dispatcher fans records out to attached sinks through an event feed.
// Each attached sink is drained by its own goroutine. A sink attached with
// Attach stalls the simulation once its buffer is full; one attached with
// AttachBestEffort drops records instead.
type Dispatcher struct {
	feed   event.Feed
	buffer int

	mu      sync.Mutex
	subs    []event.Subscription
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{buffer: buffer}
}

// Emit implements record.Sink.
func (d *Dispatcher) Emit(r record.Record) {
	d.feed.Send(r)
}

// Attach subscribes s to every record emitted from now on. No record is
// lost; a sink slower than the simulation eventually holds it up.
func (d *Dispatcher) Attach(name string, s record.Sink) {
	ch := make(chan record.Record, d.buffer)
	sub := d.subscribe(ch)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.recoverSink(name, sub)
		for {
			select {
			case r := <-ch:
				s.Emit(r)
			case <-sub.Err():
				for {
					select {
					case r := <-ch:
						s.Emit(r)
					default:
						return
					}
				}
			}
		}
	}()
}

// AttachBestEffort subscribes s like Attach, but records that arrive while
// the sink's queue is full are dropped and counted. Network sinks use it so
// a slow endpoint never stalls the simulation clock.
func (d *Dispatcher) AttachBestEffort(name string, s record.Sink) {
	ch := make(chan record.Record, d.buffer)
	queue := make(chan record.Record, d.buffer)
	sub := d.subscribe(ch)

	offer := func(r record.Record) {
		select {
		case queue <- r:
		default:
			d.dropped.Add(1)
		}
	}
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		defer close(queue)
		for {
			select {
			case r := <-ch:
				offer(r)
			case <-sub.Err():
				for {
					select {
					case r := <-ch:
						offer(r)
					default:
						return
					}
				}
			}
		}
	}()
	go func() {
		defer d.wg.Done()
		defer d.recoverSink(name, sub)
		for r := range queue {
			s.Emit(r)
		}
	}()
}

// Dropped returns how many records best-effort sinks have lost.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) subscribe(ch chan record.Record) event.Subscription {
	sub := d.feed.Subscribe(ch)
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
	return sub
}

func (d *Dispatcher) recoverSink(name string, sub event.Subscription) {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{"sink": name, "panic": r}).Error("Sink crashed, detaching")
		sub.Unsubscribe()
	}
}

// Close detaches every sink after it has drained the records already
// delivered to it.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	d.wg.Wait()
}
