// Package dedup suppresses double-processing of a message observed through
// several connected bot identities at once.
package dedup

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type window struct {
	ids  []string
	seen map[string]struct{}
}

// Ledger keeps, per room, a bounded ordered window of recently seen message
// ids. Rooms themselves are held in an LRU so an idle room eventually falls
// out entirely. All state is in-memory; loss on restart costs at most one
// duplicate learn, never a wrong reply.
type Ledger struct {
	mu    sync.Mutex
	rooms *lru.Cache[string, *window]
	cap   int
	trim  int
}

// NewLedger creates a ledger tracking up to maxRooms rooms, each holding up
// to cap message ids and trimming to the newest trim ids on overflow.
func NewLedger(maxRooms, cap, trim int) (*Ledger, error) {
	rooms, err := lru.New[string, *window](maxRooms)
	if err != nil {
		return nil, err
	}
	return &Ledger{rooms: rooms, cap: cap, trim: trim}, nil
}

// Observe records messageID for roomID and reports whether this is the first
// time it has been seen within the room's current window. The critical
// section is held only for the map/slice update, never across I/O.
func (l *Ledger) Observe(roomID, messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.rooms.Get(roomID)
	if !ok {
		w = &window{seen: make(map[string]struct{})}
		l.rooms.Add(roomID, w)
	}

	if _, dup := w.seen[messageID]; dup {
		return false
	}

	w.seen[messageID] = struct{}{}
	w.ids = append(w.ids, messageID)
	if len(w.ids) > l.cap {
		for _, id := range w.ids[:len(w.ids)-l.trim] {
			delete(w.seen, id)
		}
		w.ids = append([]string(nil), w.ids[len(w.ids)-l.trim:]...)
	}
	return true
}
