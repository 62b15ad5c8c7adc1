package channel

import (
	"context"

	"github.com/stellarlinkco/parrot/internal/bus"
)

// Channel is one chat network the engine observes and speaks through. Send
// is synchronous: the engine branches on the per-item result.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) bus.SendResult
	Approve(req bus.InviteRequest) error
	// Identities lists the bot identity ids connected through this channel,
	// known once Start has succeeded.
	Identities() []string
}

// BaseChannel carries the pieces every channel shares.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	var allow map[string]struct{}
	if len(allowFrom) > 0 {
		allow = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			allow[id] = struct{}{}
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (b *BaseChannel) Name() string {
	return b.name
}

func (b *BaseChannel) Bus() *bus.MessageBus {
	return b.bus
}

// IsAllowed reports whether a sender passes the channel's allow list. An
// empty list allows everyone.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if b.allowFrom == nil {
		return true
	}
	_, ok := b.allowFrom[senderID]
	return ok
}
