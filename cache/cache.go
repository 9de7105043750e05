// Package cache is the durable offline mirror of server state. It is never
// authoritative: writes are idempotent upserts keyed by entity id, and any
// storage failure degrades to "no offline data" instead of blocking callers.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/telemetry"
)

// Logical store names.
const (
	StorePosts    = "posts"
	StoreMessages = "messages"
	StoreListings = "listings"
	StoreDrafts   = "drafts"
)

// Draft content types.
const (
	DraftPost    = "post"
	DraftListing = "listing"
)

// StorageError reports a failed durable-storage operation. It is surfaced to
// the caller for logging but must never be treated as a blocking failure on
// the UI path.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("cache %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE TABLE IF NOT EXISTS listings (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_created ON listings(created_at);

CREATE TABLE IF NOT EXISTS drafts (
	kind       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// Cache is the durable offline store, backed by an embedded sqlite database.
type Cache struct {
	db      *sqlx.DB
	log     zerolog.Logger
	metrics *telemetry.Metrics
	janitor *janitor
}

// Open opens (or creates) the cache database at path and applies the schema.
func Open(path string, log zerolog.Logger, m *telemetry.Metrics) (*Cache, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=500"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	c, err := newFromDB(db, log, m)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func newFromDB(db *sqlx.DB, log zerolog.Logger, m *telemetry.Metrics) (*Cache, error) {
	if m == nil {
		m = telemetry.Nop()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &Cache{
		db:      db,
		log:     log.With().Str("component", "cache").Logger(),
		metrics: m,
	}, nil
}

// Close stops the janitor, if running, and closes the database.
func (c *Cache) Close() error {
	if c.janitor != nil {
		c.janitor.stop()
	}
	return c.db.Close()
}

// fail wraps, logs and counts a storage failure.
func (c *Cache) fail(op string, err error) *StorageError {
	c.metrics.CacheErrors.Inc()
	c.log.Warn().Err(err).Str("op", op).Msg("storage operation failed")
	return &StorageError{Op: op, Err: err}
}

// entry is the row shape shared by the entity stores.
type entry struct {
	ID        string `db:"id"`
	RoomID    string `db:"room_id"`
	CreatedAt int64  `db:"created_at"`
	Payload   []byte `db:"payload"`
}

const upsertStmt = `INSERT INTO %s (id, room_id, created_at, payload) VALUES (:id, :room_id, :created_at, :payload)
ON CONFLICT(id) DO UPDATE SET room_id = excluded.room_id, created_at = excluded.created_at, payload = excluded.payload`

// upsertBatch writes items into table. Writing the same id twice produces
// one stored record with the later write's fields winning.
func upsertBatch[T any](ctx context.Context, c *Cache, table string, items []T, meta func(T) (id, roomID string, created time.Time)) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return c.fail("upsert "+table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareNamedContext(ctx, fmt.Sprintf(upsertStmt, table))
	if err != nil {
		return c.fail("upsert "+table, err)
	}
	defer stmt.Close()

	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return c.fail("upsert "+table, err)
		}
		id, roomID, created := meta(item)
		e := entry{ID: id, RoomID: roomID, CreatedAt: created.UnixNano(), Payload: payload}
		if _, err := stmt.ExecContext(ctx, e); err != nil {
			return c.fail("upsert "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return c.fail("upsert "+table, err)
	}
	return nil
}

// queryRecent returns the newest limit entries in ascending creation order,
// regardless of insertion order.
func queryRecent[T any](ctx context.Context, c *Cache, table string, limit int) ([]T, error) {
	query := fmt.Sprintf(
		"SELECT payload FROM (SELECT id, created_at, payload FROM %s ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at ASC, id ASC",
		table)
	var payloads [][]byte
	if err := c.db.SelectContext(ctx, &payloads, query, limit); err != nil {
		return nil, c.fail("query "+table, err)
	}

	out := make([]T, 0, len(payloads))
	for _, p := range payloads {
		var item T
		if err := json.Unmarshal(p, &item); err != nil {
			return nil, c.fail("query "+table, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// UpsertPosts mirrors a batch of feed posts.
func (c *Cache) UpsertPosts(ctx context.Context, posts []model.Post) error {
	return upsertBatch(ctx, c, StorePosts, posts, func(p model.Post) (string, string, time.Time) {
		return p.ID, "", p.CreatedAt
	})
}

// RecentPosts returns the newest limit posts in ascending creation order.
func (c *Cache) RecentPosts(ctx context.Context, limit int) ([]model.Post, error) {
	return queryRecent[model.Post](ctx, c, StorePosts, limit)
}

// UpsertMessages mirrors a batch of chat messages.
func (c *Cache) UpsertMessages(ctx context.Context, msgs []model.ChatMessage) error {
	return upsertBatch(ctx, c, StoreMessages, msgs, func(m model.ChatMessage) (string, string, time.Time) {
		return m.ID, m.RoomID, m.CreatedAt
	})
}

// MessagesByRoom returns a room's messages in ascending creation order,
// matching in-room arrival presentation.
func (c *Cache) MessagesByRoom(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	var payloads [][]byte
	err := c.db.SelectContext(ctx, &payloads,
		"SELECT payload FROM messages WHERE room_id = ? ORDER BY created_at ASC, id ASC", roomID)
	if err != nil {
		return nil, c.fail("query messages", err)
	}

	out := make([]model.ChatMessage, 0, len(payloads))
	for _, p := range payloads {
		var msg model.ChatMessage
		if err := json.Unmarshal(p, &msg); err != nil {
			return nil, c.fail("query messages", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// UpsertListings mirrors a batch of marketplace listings.
func (c *Cache) UpsertListings(ctx context.Context, listings []model.Listing) error {
	return upsertBatch(ctx, c, StoreListings, listings, func(l model.Listing) (string, string, time.Time) {
		return l.ID, "", l.CreatedAt
	})
}

// RecentListings returns the newest limit listings in ascending creation order.
func (c *Cache) RecentListings(ctx context.Context, limit int) ([]model.Listing, error) {
	return queryRecent[model.Listing](ctx, c, StoreListings, limit)
}

// SaveDraft stores a draft keyed by content type, replacing any previous one.
func (c *Cache) SaveDraft(ctx context.Context, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return c.fail("save draft", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO drafts (kind, created_at, payload) VALUES (?, ?, ?)
		 ON CONFLICT(kind) DO UPDATE SET created_at = excluded.created_at, payload = excluded.payload`,
		kind, time.Now().UnixNano(), payload)
	if err != nil {
		return c.fail("save draft", err)
	}
	return nil
}

// Draft loads the draft for a content type into out. The bool reports
// whether a draft existed.
func (c *Cache) Draft(ctx context.Context, kind string, out any) (bool, error) {
	var payload []byte
	err := c.db.GetContext(ctx, &payload, "SELECT payload FROM drafts WHERE kind = ?", kind)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, c.fail("load draft", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, c.fail("load draft", err)
	}
	return true, nil
}

// DeleteDraft removes the draft for a content type.
func (c *Cache) DeleteDraft(ctx context.Context, kind string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM drafts WHERE kind = ?", kind); err != nil {
		return c.fail("delete draft", err)
	}
	return nil
}

// Clear removes all entries of one logical store.
func (c *Cache) Clear(ctx context.Context, store string) error {
	switch store {
	case StorePosts, StoreMessages, StoreListings, StoreDrafts:
	default:
		return &StorageError{Op: "clear", Err: fmt.Errorf("unknown store %q", store)}
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM "+store); err != nil {
		return c.fail("clear "+store, err)
	}
	return nil
}

// ClearAll wipes every store and the key-value area. Used on logout.
func (c *Cache) ClearAll(ctx context.Context) error {
	for _, table := range []string{StorePosts, StoreMessages, StoreListings, StoreDrafts, "kv"} {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return c.fail("clear all", err)
		}
	}
	return nil
}
