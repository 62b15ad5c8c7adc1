// Package cooldown enforces a minimum interval between actions of the same
// kind for a (bot, room) pair. State lives only for the process lifetime.
package cooldown

import (
	"sync"
	"time"
)

type key struct {
	botID  string
	roomID string
	action string
}

type Gate struct {
	mu   sync.Mutex
	last map[key]time.Time
	now  func() time.Time
}

func NewGate() *Gate {
	return &Gate{
		last: make(map[key]time.Time),
		now:  time.Now,
	}
}

// SetClock replaces the gate's clock (for testing).
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Ready reports whether the action may run: either no prior record exists or
// at least cooldown has elapsed since the last Refresh. The cooldown value is
// supplied by the caller; the gate owns no configuration.
func (g *Gate) Ready(botID, roomID, action string, cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.last[key{botID, roomID, action}]
	if !ok {
		return true
	}
	return g.now().Sub(last) >= cooldown
}

// Refresh unconditionally records the action as having just run.
func (g *Gate) Refresh(botID, roomID, action string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[key{botID, roomID, action}] = g.now()
}
