package repeater

import (
	"log"
	"time"

	"github.com/stellarlinkco/parrot/internal/accounts"
	"github.com/stellarlinkco/parrot/internal/cooldown"
	"github.com/stellarlinkco/parrot/internal/corpus"
	"github.com/stellarlinkco/parrot/internal/normalize"
)

// Speaker periodically emits a learned phrase unprompted, subject to the
// same ban and cooldown gates as echoing.
type Speaker struct {
	store    *corpus.Store
	gate     *cooldown.Gate
	acct     *accounts.Store
	presence *Presence
	runner   *Runner
	now      func() time.Time
}

func NewSpeaker(store *corpus.Store, gate *cooldown.Gate, acct *accounts.Store, presence *Presence, runner *Runner) *Speaker {
	return &Speaker{
		store:    store,
		gate:     gate,
		acct:     acct,
		presence: presence,
		runner:   runner,
		now:      time.Now,
	}
}

// Tick runs one speak attempt. Every gate that declines is a silent no-op;
// the next tick tries again with a fresh sample.
func (s *Speaker) Tick() {
	now := s.now()

	roomID, text, ok := s.store.Sample(now)
	if !ok {
		return
	}

	channelName, botID, ok := s.presence.Resolve(roomID)
	if !ok {
		return
	}

	cd := s.acct.Cooldown(botID, roomID)
	if !s.gate.Ready(botID, roomID, ActionSpeak, cd) {
		return
	}

	keyword := normalize.Normalize(text)
	if s.store.IsBanned(roomID, botID, keyword) {
		return
	}

	items := normalize.SplitItems(text)
	if len(items) == 0 {
		return
	}
	// Same rule as echoing: any banned line kills the whole answer.
	for _, item := range items {
		if s.store.IsBanned(roomID, botID, normalize.Normalize(item)) {
			return
		}
	}

	log.Printf("[repeater] bot %s speaking %d item(s) into room %s", botID, len(items), roomID)
	s.gate.Refresh(botID, roomID, ActionSpeak)
	s.runner.Run(channelName, roomID, botID, ActionSpeak, items)
}
