package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus carries inbound events toward the engine and fans a copy of
// outbound traffic out to monitoring subscribers. Actual delivery to a chat
// network is synchronous (the sender needs the per-item result) and does not
// go through the bus; Outbound is an observation feed.
type MessageBus struct {
	Inbound  chan InboundEvent
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:     make(chan InboundEvent, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers a callback receiving every outbound message.
// The name keys the subscription; a second call with the same name replaces
// the previous callback.
func (b *MessageBus) SubscribeOutbound(name string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = fn
}

// PublishOutbound offers a sent message to the observation feed without
// blocking the sender.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.Outbound <- msg:
	default:
		log.Printf("[bus] outbound feed full, dropping observation for %s/%s", msg.Channel, msg.RoomID)
	}
}

func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			for _, fn := range b.subscribers {
				fn(msg)
			}
			b.mu.RUnlock()
		case <-ctx.Done():
			return
		}
	}
}
