package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishOutbound_NonBlocking(t *testing.T) {
	b := NewMessageBus(1)

	// Second publish overflows the feed; it must drop, not block.
	b.PublishOutbound(OutboundMessage{Channel: "c", RoomID: "r", Text: "one"})
	done := make(chan struct{})
	go func() {
		b.PublishOutbound(OutboundMessage{Channel: "c", RoomID: "r", Text: "two"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishOutbound blocked on a full feed")
	}
}

func TestDispatchOutbound_FansOut(t *testing.T) {
	b := NewMessageBus(10)

	got := make(chan OutboundMessage, 2)
	b.SubscribeOutbound("a", func(msg OutboundMessage) { got <- msg })
	b.SubscribeOutbound("b", func(msg OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishOutbound(OutboundMessage{Channel: "telegram", RoomID: "r1", Text: "hi"})

	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			if msg.Text != "hi" {
				t.Errorf("text = %q, want hi", msg.Text)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestSubscribeOutbound_Replaces(t *testing.T) {
	b := NewMessageBus(10)

	first := make(chan OutboundMessage, 1)
	second := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("mon", func(msg OutboundMessage) { first <- msg })
	b.SubscribeOutbound("mon", func(msg OutboundMessage) { second <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishOutbound(OutboundMessage{Text: "x"})

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement subscriber did not receive message")
	}
	select {
	case <-first:
		t.Error("replaced subscriber should not receive messages")
	default:
	}
}
