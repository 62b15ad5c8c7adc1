// Package repeater is the decision core: it learns phrases that distinct
// speakers repeat, decides when to echo them back, moderates what may be
// echoed, and paces its own sends.
package repeater

import (
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/parrot/internal/accounts"
	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/cooldown"
	"github.com/stellarlinkco/parrot/internal/corpus"
	"github.com/stellarlinkco/parrot/internal/dedup"
	"github.com/stellarlinkco/parrot/internal/normalize"
)

const (
	ActionRepeat = "repeat"
	ActionSpeak  = "speak"
)

type lastKey struct {
	roomID string
	botID  string
}

type Decider struct {
	ledger *dedup.Ledger
	store  *corpus.Store
	gate   *cooldown.Gate
	acct   *accounts.Store

	mu         sync.Mutex
	lastAnswer map[lastKey]string // normalized text of the last produced answer
	now        func() time.Time
}

func NewDecider(ledger *dedup.Ledger, store *corpus.Store, gate *cooldown.Gate, acct *accounts.Store) *Decider {
	return &Decider{
		ledger:     ledger,
		store:      store,
		gate:       gate,
		acct:       acct,
		lastAnswer: make(map[lastKey]string),
		now:        time.Now,
	}
}

// SetClock replaces the decider's clock (for testing).
func (d *Decider) SetClock(now func() time.Time) {
	d.now = now
}

// OnEvent processes one inbound message and returns the ordered send items
// of an echo answer, or nil when nothing should be sent. Learning happens
// regardless of whether an answer is produced.
func (d *Decider) OnEvent(ev bus.ChatEvent) []string {
	now := d.now()

	// Learn gate: several bot identities in the same room all deliver the
	// same message; only the first observation learns it.
	toLearn := ev.MessageID == "" || d.ledger.Observe(ev.RoomID, ev.MessageID)
	if toLearn {
		d.store.Learn(ev.RoomID, ev.SpeakerID, ev.RawText, ev.Text, now)
	}

	if ev.Text == "" {
		return nil
	}

	cd := d.acct.Cooldown(ev.BotID, ev.RoomID)
	if !d.gate.Ready(ev.BotID, ev.RoomID, ActionRepeat, cd) {
		return nil
	}

	if !d.store.Candidate(ev.RoomID, ev.Text, now) {
		return nil
	}
	if d.store.IsBanned(ev.RoomID, ev.BotID, ev.Text) {
		return nil
	}

	raw, ok := d.store.Text(ev.RoomID, ev.Text)
	if !ok {
		return nil
	}
	items := normalize.SplitItems(raw)

	// A multi-line entry is proposed line by line; any banned line kills
	// the whole answer.
	for _, item := range items {
		if d.store.IsBanned(ev.RoomID, ev.BotID, normalize.Normalize(item)) {
			return nil
		}
	}
	if len(items) == 0 {
		return nil
	}

	d.gate.Refresh(ev.BotID, ev.RoomID, ActionRepeat)
	d.recordAnswer(ev.RoomID, ev.BotID, ev.Text)

	log.Printf("[repeater] bot %s answering room %s with %d item(s)", ev.BotID, ev.RoomID, len(items))
	return items
}

func (d *Decider) recordAnswer(roomID, botID, keyword string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAnswer[lastKey{roomID, botID}] = keyword
}

// LastAnswer returns the normalized text of the most recent answer produced
// for (roomID, botID).
func (d *Decider) LastAnswer(roomID, botID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	text, ok := d.lastAnswer[lastKey{roomID, botID}]
	return text, ok
}

// BanText is the moderation entry point. An empty text means "ban the most
// recent answer for this (room, bot)". Admin gating is the caller's job.
func (d *Decider) BanText(roomID, botID, text, reason string) {
	keyword := normalize.Normalize(text)
	if keyword == "" {
		last, ok := d.LastAnswer(roomID, botID)
		if !ok {
			log.Printf("[repeater] ban latest requested but no answer recorded for bot %s in room %s", botID, roomID)
			return
		}
		keyword = last
	}
	d.store.Ban(roomID, botID, keyword, reason, d.now())
}
