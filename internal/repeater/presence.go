package repeater

import (
	"sync"
	"time"
)

// presenceTTL bounds how long an observed (room, bot) pairing stays usable
// for unprompted speaking after the bot last saw traffic there.
const presenceTTL = time.Hour

type sighting struct {
	channel string
	seenAt  time.Time
}

// Presence records which bot identities have recently observed which rooms,
// and through which channel. The auto speaker uses it to resolve a bot able
// to deliver into a sampled room; it rebuilds naturally from traffic after
// a restart.
type Presence struct {
	mu    sync.Mutex
	rooms map[string]map[string]sighting // room -> bot -> last sighting
	now   func() time.Time
}

func NewPresence() *Presence {
	return &Presence{
		rooms: make(map[string]map[string]sighting),
		now:   time.Now,
	}
}

// SetClock replaces the registry's clock (for testing).
func (p *Presence) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *Presence) Observe(channelName, roomID, botID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bots, ok := p.rooms[roomID]
	if !ok {
		bots = make(map[string]sighting)
		p.rooms[roomID] = bots
	}
	bots[botID] = sighting{channel: channelName, seenAt: p.now()}
}

// Resolve returns the most recently sighted bot for a room, provided the
// sighting is fresh enough to trust.
func (p *Presence) Resolve(roomID string) (channelName, botID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best sighting
	for bot, s := range p.rooms[roomID] {
		if s.seenAt.After(best.seenAt) {
			best = s
			botID = bot
		}
	}
	if botID == "" || p.now().Sub(best.seenAt) > presenceTTL {
		return "", "", false
	}
	return best.channel, botID, true
}
