package corpus

import (
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists which normalized texts have been said by which distinct
// speakers in which rooms, plus per-(room, bot) bans on specific texts.
// Every read/write degrades to best-effort: a backing-store failure is
// logged and swallowed so the event pipeline never blocks on it.
type Store struct {
	db          *sql.DB
	retention   time.Duration
	minSpeakers int

	ownMu   sync.RWMutex
	ownBots map[string]struct{}
}

func Open(dbPath string, retentionDays, minSpeakers int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{
		db:          db,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		minSpeakers: minSpeakers,
		ownBots:     make(map[string]struct{}),
	}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			room_id TEXT NOT NULL,
			keyword TEXT NOT NULL,
			text TEXT NOT NULL,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			PRIMARY KEY (room_id, keyword)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_last_seen ON entries(last_seen)`,
		`CREATE TABLE IF NOT EXISTS speakers (
			room_id TEXT NOT NULL,
			keyword TEXT NOT NULL,
			speaker_id TEXT NOT NULL,
			seen_at INTEGER NOT NULL,
			PRIMARY KEY (room_id, keyword, speaker_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_speakers_seen_at ON speakers(seen_at)`,
		`CREATE TABLE IF NOT EXISTS bans (
			room_id TEXT NOT NULL,
			bot_id TEXT NOT NULL,
			keyword TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (room_id, bot_id, keyword)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MarkOwn registers a connected bot identity. Texts spoken by an own
// identity are never learned, so the bot cannot feed on its own output.
func (s *Store) MarkOwn(botID string) {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	s.ownBots[botID] = struct{}{}
}

func (s *Store) isOwn(speakerID string) bool {
	s.ownMu.RLock()
	defer s.ownMu.RUnlock()
	_, ok := s.ownBots[speakerID]
	return ok
}

// Learn upserts the entry for (roomID, keyword) and adds speakerID to its
// distinct-speaker set. Concurrent learns on the same key cannot lose
// speakers: each speaker is its own row, deduplicated by primary key.
func (s *Store) Learn(roomID, speakerID, raw, keyword string, now time.Time) {
	if keyword == "" || s.isOwn(speakerID) {
		return
	}
	ts := now.Unix()

	_, err := s.db.Exec(`INSERT INTO entries(room_id, keyword, text, first_seen, last_seen)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(room_id, keyword) DO UPDATE SET text=excluded.text, last_seen=excluded.last_seen`,
		roomID, keyword, raw, ts, ts)
	if err != nil {
		log.Printf("[corpus] learn entry (%s) failed: %v", roomID, err)
		return
	}

	_, err = s.db.Exec(`INSERT INTO speakers(room_id, keyword, speaker_id, seen_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(room_id, keyword, speaker_id) DO UPDATE SET seen_at=excluded.seen_at`,
		roomID, keyword, speakerID, ts)
	if err != nil {
		log.Printf("[corpus] learn speaker (%s) failed: %v", roomID, err)
	}
}

// Candidate reports whether the entry for (roomID, keyword) is eligible to
// be echoed: it exists, enough distinct speakers said it within the
// retention window, and it was last seen within the window.
func (s *Store) Candidate(roomID, keyword string, now time.Time) bool {
	if keyword == "" {
		return false
	}
	cutoff := now.Add(-s.retention).Unix()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM speakers s
		JOIN entries e ON e.room_id = s.room_id AND e.keyword = s.keyword
		WHERE s.room_id = ? AND s.keyword = ? AND s.seen_at >= ? AND e.last_seen >= ?`,
		roomID, keyword, cutoff, cutoff).Scan(&n)
	if err != nil {
		log.Printf("[corpus] candidate lookup (%s) failed: %v", roomID, err)
		return false
	}
	return n >= s.minSpeakers
}

// Text returns the stored raw text for an entry.
func (s *Store) Text(roomID, keyword string) (string, bool) {
	var text string
	err := s.db.QueryRow(`SELECT text FROM entries WHERE room_id = ? AND keyword = ?`,
		roomID, keyword).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		log.Printf("[corpus] text lookup (%s) failed: %v", roomID, err)
		return "", false
	}
	return text, true
}

// Sample picks one eligible entry across all rooms, weighted by its
// distinct-speaker count, or reports no entry qualifies.
func (s *Store) Sample(now time.Time) (roomID, text string, ok bool) {
	cutoff := now.Add(-s.retention).Unix()

	rows, err := s.db.Query(`SELECT e.room_id, e.text, COUNT(s.speaker_id) AS n
		FROM entries e
		JOIN speakers s ON s.room_id = e.room_id AND s.keyword = e.keyword
		WHERE e.last_seen >= ? AND s.seen_at >= ?
		GROUP BY e.room_id, e.keyword
		HAVING n >= ?`,
		cutoff, cutoff, s.minSpeakers)
	if err != nil {
		log.Printf("[corpus] sample query failed: %v", err)
		return "", "", false
	}
	defer rows.Close()

	type candidate struct {
		room   string
		text   string
		weight int
	}
	var cands []candidate
	total := 0
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.room, &c.text, &c.weight); err != nil {
			log.Printf("[corpus] sample scan failed: %v", err)
			return "", "", false
		}
		cands = append(cands, c)
		total += c.weight
	}
	if err := rows.Err(); err != nil {
		log.Printf("[corpus] sample rows failed: %v", err)
		return "", "", false
	}
	if total == 0 {
		return "", "", false
	}

	r := rand.Intn(total)
	for _, c := range cands {
		if r < c.weight {
			return c.room, c.text, true
		}
		r -= c.weight
	}
	return "", "", false
}

// Prune removes every entry (and its speaker rows) whose last_seen is older
// than the retention horizon. Running it twice is a no-op.
func (s *Store) Prune(now time.Time) int {
	cutoff := now.Add(-s.retention).Unix()

	if _, err := s.db.Exec(`DELETE FROM speakers WHERE (room_id, keyword) IN
		(SELECT room_id, keyword FROM entries WHERE last_seen < ?)`, cutoff); err != nil {
		log.Printf("[corpus] prune speakers failed: %v", err)
		return 0
	}
	res, err := s.db.Exec(`DELETE FROM entries WHERE last_seen < ?`, cutoff)
	if err != nil {
		log.Printf("[corpus] prune entries failed: %v", err)
		return 0
	}
	removed, _ := res.RowsAffected()
	return int(removed)
}

// Ban flags keyword for (roomID, botID). Banning an already-banned text
// just updates the reason and timestamp. There is no unban.
func (s *Store) Ban(roomID, botID, keyword, reason string, now time.Time) {
	if keyword == "" {
		log.Printf("[corpus] ban with empty text ignored (room %s, bot %s)", roomID, botID)
		return
	}
	_, err := s.db.Exec(`INSERT INTO bans(room_id, bot_id, keyword, reason, created_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(room_id, bot_id, keyword) DO UPDATE SET reason=excluded.reason, created_at=excluded.created_at`,
		roomID, botID, keyword, reason, now.Unix())
	if err != nil {
		log.Printf("[corpus] ban (%s) failed: %v", roomID, err)
		return
	}
	log.Printf("[corpus] banned %q for bot %s in room %s (%s)", keyword, botID, roomID, reason)
}

// IsBanned fails closed: if the store cannot be read, the text is treated
// as banned rather than risking a send that moderation already blocked.
func (s *Store) IsBanned(roomID, botID, keyword string) bool {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bans WHERE room_id = ? AND bot_id = ? AND keyword = ?`,
		roomID, botID, keyword).Scan(&n)
	if err != nil {
		log.Printf("[corpus] ban lookup (%s) failed: %v", roomID, err)
		return true
	}
	return n > 0
}

// Stats reports entry and ban counts for status display.
func (s *Store) Stats() (entries, bans int) {
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&entries); err != nil {
		log.Printf("[corpus] stats failed: %v", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bans`).Scan(&bans); err != nil {
		log.Printf("[corpus] stats failed: %v", err)
	}
	return entries, bans
}
