package events

import (
	"sync"

	"shieldlend/core/types"
)

// Carrier is implemented by typed events that can render themselves as a wire
// level types.Event.
type Carrier interface {
	Event
	Event() *types.Event
}

// Bus fans emitted events out to subscribers. Slow subscribers are skipped
// rather than blocking the emitting transaction.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *types.Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan *types.Event)}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the channel.
func (b *Bus) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Emit implements Emitter. Events that do not carry a wire representation are
// dropped.
func (b *Bus) Emit(evt Event) {
	carrier, ok := evt.(Carrier)
	if !ok {
		return
	}
	wire := carrier.Event()
	if wire == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- wire:
		default:
		}
	}
}
