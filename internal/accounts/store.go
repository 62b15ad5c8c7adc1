// Package accounts is the account/permission configuration store: per-bot
// flags (healthy, auto-accept, admins), per-room and per-user bans, and
// per-(bot, room) cooldown overrides. Reads go through a small LRU cache;
// mutations write through and invalidate.
package accounts

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

const cacheSize = 8192

type Store struct {
	db              *sql.DB
	cache           *lru.Cache[string, bool]
	defaultCooldown time.Duration
}

func Open(dbPath string, defaultCooldown time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	s := &Store{db: db, cache: cache, defaultCooldown: defaultCooldown}
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
		`CREATE TABLE IF NOT EXISTS accounts (
			bot_id TEXT PRIMARY KEY,
			healthy INTEGER NOT NULL DEFAULT 0,
			auto_accept INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS admins (
			bot_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (bot_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			banned INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			banned INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cooldowns (
			bot_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			seconds INTEGER NOT NULL,
			PRIMARY KEY (bot_id, room_id)
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

// flag runs a boolean lookup through the cache. A missing row reads as
// false; a failed read is logged and reads as false too.
func (s *Store) flag(cacheKey, query string, args ...any) bool {
	if v, ok := s.cache.Get(cacheKey); ok {
		return v
	}
	var n int
	err := s.db.QueryRow(query, args...).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("[accounts] lookup %s failed: %v", cacheKey, err)
		return false
	}
	v := n > 0
	s.cache.Add(cacheKey, v)
	return v
}

// Healthy reports whether the account is in a safe state (not flagged or
// restricted by the platform). Unknown accounts are treated as unhealthy.
func (s *Store) Healthy(botID string) bool {
	return s.flag("healthy:"+botID,
		`SELECT healthy FROM accounts WHERE bot_id = ?`, botID)
}

func (s *Store) SetHealthy(botID string, healthy bool) error {
	_, err := s.db.Exec(`INSERT INTO accounts(bot_id, healthy) VALUES(?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET healthy=excluded.healthy`, botID, boolInt(healthy))
	if err != nil {
		return fmt.Errorf("set healthy: %w", err)
	}
	s.cache.Remove("healthy:" + botID)
	return nil
}

// AutoAccept reports whether the bot accepts room invites automatically.
func (s *Store) AutoAccept(botID string) bool {
	return s.flag("autoaccept:"+botID,
		`SELECT auto_accept FROM accounts WHERE bot_id = ?`, botID)
}

func (s *Store) SetAutoAccept(botID string, accept bool) error {
	_, err := s.db.Exec(`INSERT INTO accounts(bot_id, auto_accept) VALUES(?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET auto_accept=excluded.auto_accept`, botID, boolInt(accept))
	if err != nil {
		return fmt.Errorf("set auto accept: %w", err)
	}
	s.cache.Remove("autoaccept:" + botID)
	return nil
}

func (s *Store) IsAdmin(botID, userID string) bool {
	return s.flag("admin:"+botID+":"+userID,
		`SELECT COUNT(*) FROM admins WHERE bot_id = ? AND user_id = ?`, botID, userID)
}

func (s *Store) AddAdmin(botID, userID string) error {
	_, err := s.db.Exec(`INSERT INTO admins(bot_id, user_id) VALUES(?, ?)
		ON CONFLICT(bot_id, user_id) DO NOTHING`, botID, userID)
	if err != nil {
		return fmt.Errorf("add admin: %w", err)
	}
	s.cache.Remove("admin:" + botID + ":" + userID)
	return nil
}

func (s *Store) RoomBanned(roomID string) bool {
	return s.flag("roomban:"+roomID,
		`SELECT banned FROM rooms WHERE room_id = ?`, roomID)
}

func (s *Store) BanRoom(roomID string) error {
	_, err := s.db.Exec(`INSERT INTO rooms(room_id, banned) VALUES(?, 1)
		ON CONFLICT(room_id) DO UPDATE SET banned=1`, roomID)
	if err != nil {
		return fmt.Errorf("ban room: %w", err)
	}
	s.cache.Remove("roomban:" + roomID)
	return nil
}

func (s *Store) UserBanned(userID string) bool {
	return s.flag("userban:"+userID,
		`SELECT banned FROM users WHERE user_id = ?`, userID)
}

func (s *Store) BanUser(userID string) error {
	_, err := s.db.Exec(`INSERT INTO users(user_id, banned) VALUES(?, 1)
		ON CONFLICT(user_id) DO UPDATE SET banned=1`, userID)
	if err != nil {
		return fmt.Errorf("ban user: %w", err)
	}
	s.cache.Remove("userban:" + userID)
	return nil
}

// Cooldown returns the configured cooldown for a (bot, room) pair, falling
// back to the process-wide default when no override exists.
func (s *Store) Cooldown(botID, roomID string) time.Duration {
	var seconds int
	err := s.db.QueryRow(`SELECT seconds FROM cooldowns WHERE bot_id = ? AND room_id = ?`,
		botID, roomID).Scan(&seconds)
	if err == sql.ErrNoRows {
		return s.defaultCooldown
	}
	if err != nil {
		log.Printf("[accounts] cooldown lookup failed: %v", err)
		return s.defaultCooldown
	}
	return time.Duration(seconds) * time.Second
}

func (s *Store) SetCooldown(botID, roomID string, seconds int) error {
	_, err := s.db.Exec(`INSERT INTO cooldowns(bot_id, room_id, seconds) VALUES(?, ?, ?)
		ON CONFLICT(bot_id, room_id) DO UPDATE SET seconds=excluded.seconds`, botID, roomID, seconds)
	if err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
