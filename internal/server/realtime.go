package server

import (
	"context"
	"sync"
)

// RealtimeMessage is one channel event fanned out to the sockets of a tenant.
type RealtimeMessage struct {
	TenantID string
	Event    string
	Data     any
}

// RealtimeHub tracks open sockets per tenant. Every socket of the tenant
// receives every message; recipients filter notifications on their side.
type RealtimeHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	closed      bool
}

type realtimeSubscriber struct {
	id     int64
	userID string
	stream chan RealtimeMessage
}

func NewRealtimeHub() *RealtimeHub {
	return &RealtimeHub{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a socket of userID under tenantID. The stream closes
// when ctx ends, when cleanup runs or when the hub shuts down.
func (h *RealtimeHub) Subscribe(ctx context.Context, tenantID, userID string) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		userID: userID,
		stream: make(chan RealtimeMessage, h.bufferSize),
	}
	if tenantID == "" || !h.registerSubscriber(tenantID, subscriber) {
		close(subscriber.stream)
		return subscriber.stream, func() {}
	}
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.unregisterSubscriber(tenantID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every socket of its tenant. Slow sockets miss
// messages rather than block the publisher.
func (h *RealtimeHub) Publish(message RealtimeMessage) {
	if message.TenantID == "" || message.Event == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subscriber := range h.subscribers[message.TenantID] {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Connections reports the number of open sockets of tenantID.
func (h *RealtimeHub) Connections(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[tenantID])
}

// Close ends every subscription. Later subscriptions receive a closed stream.
func (h *RealtimeHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for tenantID, subscribers := range h.subscribers {
		for _, subscriber := range subscribers {
			close(subscriber.stream)
		}
		delete(h.subscribers, tenantID)
	}
}

func (h *RealtimeHub) registerSubscriber(tenantID string, subscriber *realtimeSubscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.nextID++
	subscriber.id = h.nextID
	if _, ok := h.subscribers[tenantID]; !ok {
		h.subscribers[tenantID] = make(map[int64]*realtimeSubscriber)
	}
	h.subscribers[tenantID][subscriber.id] = subscriber
	return true
}

func (h *RealtimeHub) unregisterSubscriber(tenantID string, subscriberID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers := h.subscribers[tenantID]
	subscriber, ok := subscribers[subscriberID]
	if !ok {
		return
	}
	delete(subscribers, subscriberID)
	close(subscriber.stream)
	if len(subscribers) == 0 {
		delete(h.subscribers, tenantID)
	}
}
