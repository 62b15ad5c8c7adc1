package repeater

import (
	"log"
	"math/rand"
	"time"

	"github.com/stellarlinkco/parrot/internal/accounts"
	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/cooldown"
	"github.com/stellarlinkco/parrot/internal/corpus"
	"github.com/stellarlinkco/parrot/internal/normalize"
)

// SendFunc delivers one item synchronously and reports the outcome.
type SendFunc func(bus.OutboundMessage) bus.SendResult

// Runner executes a paced send sequence: a randomized wait before each item,
// the cooldown re-refreshed immediately before each delivery so a long batch
// keeps renewing itself, and a conditional auto-ban on rejection.
type Runner struct {
	gate  *cooldown.Gate
	store *corpus.Store
	acct  *accounts.Store
	bus   *bus.MessageBus
	send  SendFunc

	// injectable for tests
	sleep func(time.Duration)
	delay func(first bool) time.Duration
	now   func() time.Time
}

func NewRunner(gate *cooldown.Gate, store *corpus.Store, acct *accounts.Store, b *bus.MessageBus, send SendFunc) *Runner {
	return &Runner{
		gate:  gate,
		store: store,
		acct:  acct,
		bus:   b,
		send:  send,
		sleep: time.Sleep,
		delay: randomDelay,
		now:   time.Now,
	}
}

// SetPacing overrides the wait policy (for testing)
func (r *Runner) SetPacing(sleep func(time.Duration), delay func(first bool) time.Duration) {
	if sleep != nil {
		r.sleep = sleep
	}
	if delay != nil {
		r.delay = delay
	}
}

// randomDelay is the pacing policy: 2-5s before the first item, 1-3s
// between subsequent items.
func randomDelay(first bool) time.Duration {
	if first {
		return time.Duration(2+rand.Intn(4)) * time.Second
	}
	return time.Duration(1+rand.Intn(3)) * time.Second
}

// Run sends items in order. A rejected item on a healthy account means the
// content itself is no longer deliverable: it gets banned and the rest of
// the batch is aborted. On an unhealthy account the rejection is attributed
// to account state and the batch continues.
func (r *Runner) Run(channelName, roomID, botID, action string, items []string) {
	first := true
	for _, item := range items {
		r.sleep(r.delay(first))
		first = false

		r.gate.Refresh(botID, roomID, action)

		msg := bus.OutboundMessage{
			Channel: channelName,
			RoomID:  roomID,
			BotID:   botID,
			Text:    item,
		}
		if r.send(msg) == bus.SendRejected {
			if !r.acct.Healthy(botID) {
				log.Printf("[repeater] send rejected for unhealthy bot %s in room %s, continuing", botID, roomID)
				continue
			}
			log.Printf("[repeater] send rejected for healthy bot %s, banning %q in room %s", botID, item, roomID)
			r.store.Ban(roomID, botID, normalize.Normalize(item), "transport-rejected", r.now())
			return
		}

		log.Printf("[repeater] bot %s sent %q to room %s", botID, item, roomID)
		r.bus.PublishOutbound(msg)
	}
}
