package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"workescrow/core/types"
)

var (
	dropCounterOnce sync.Once
	dropCounter     metric.Int64Counter
)

// droppedDeliveries returns the shared OTel counter for skipped deliveries.
func droppedDeliveries() metric.Int64Counter {
	dropCounterOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("workescrow/events")
		counter, err := meter.Int64Counter("escrow.events.dropped",
			metric.WithDescription("Event deliveries skipped because a subscriber was full."))
		if err != nil {
			counter, _ = noop.NewMeterProvider().Meter("workescrow/events").Int64Counter("escrow.events.dropped")
		}
		dropCounter = counter
	})
	return dropCounter
}

// Broadcaster is an Emitter that fans rendered events out to live
// subscribers. Slow subscribers drop events rather than blocking emitters.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	dropped atomic.Uint64
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan *types.Event)}
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	rendered := Render(evt)
	if rendered == nil {
		return
	}
	var skipped int64
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- rendered.Clone():
		default:
			skipped++
		}
	}
	b.mu.RUnlock()
	if skipped > 0 {
		b.dropped.Add(uint64(skipped))
		droppedDeliveries().Add(context.Background(), skipped)
	}
}

// Subscribe registers a subscriber with the supplied channel capacity. The
// returned channel is closed once ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, capacity int) <-chan *types.Event {
	if capacity <= 0 {
		capacity = 64
	}
	ch := make(chan *types.Event, capacity)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Subscribers reports the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }
