package realtime

import (
	"context"
	"slices"
	"sync"
)

// Dispatcher fans named messages out to registered handlers. Registrations
// outlive individual connections.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]Handler
	nextID      int64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]Handler),
	}
}

// Subscribe registers handler for event and returns its removal func.
func (d *Dispatcher) Subscribe(event string, handler Handler) func() {
	if event == "" || handler == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if _, ok := d.subscribers[event]; !ok {
		d.subscribers[event] = make(map[int64]Handler)
	}
	d.subscribers[event][id] = handler
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.unregister(event, id)
		})
	}
}

// Publish calls every handler registered for message.Event.
func (d *Dispatcher) Publish(message Message) {
	if message.Event == "" {
		return
	}
	d.mu.RLock()
	handlers := d.subscribers[message.Event]
	if len(handlers) == 0 {
		d.mu.RUnlock()
		return
	}
	ids := make([]int64, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	copies := make([]Handler, 0, len(ids))
	for _, id := range ids {
		copies = append(copies, handlers[id])
	}
	d.mu.RUnlock()

	for _, handler := range copies {
		handler(message)
	}
}

func (d *Dispatcher) unregister(event string, id int64) {
	d.mu.Lock()
	handlers := d.subscribers[event]
	if handlers != nil {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(d.subscribers, event)
		}
	}
	d.mu.Unlock()
}

// Broadcaster publishes values to buffered subscriber streams. A slow
// subscriber loses its oldest pending value, never the newest.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[int64]chan T
	nextID      int64
	bufferSize  int
}

func NewBroadcaster[T any](bufferSize int) *Broadcaster[T] {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Broadcaster[T]{
		subscribers: make(map[int64]chan T),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a stream that closes when ctx ends or cleanup is called.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	stream := make(chan T, b.bufferSize)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = stream
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(stream)
			}
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish never blocks.
func (b *Broadcaster[T]) Publish(value T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, stream := range b.subscribers {
		select {
		case stream <- value:
			continue
		default:
		}
		select {
		case <-stream:
		default:
		}
		select {
		case stream <- value:
		default:
		}
	}
}

// Close ends every subscriber stream.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	for id, stream := range b.subscribers {
		delete(b.subscribers, id)
		close(stream)
	}
	b.mu.Unlock()
}
