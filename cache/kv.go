package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Well-known key-value entries.
const (
	KeyCredentials = "auth.credentials"
	KeyUser        = "auth.user"
)

// PutJSON stores v under key in the key-value area, replacing any previous
// value.
func (c *Cache) PutJSON(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return c.fail("put "+key, err)
	}
	_, err = c.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, payload)
	if err != nil {
		return c.fail("put "+key, err)
	}
	return nil
}

// GetJSON loads the value stored under key into out. The bool reports
// whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	var payload []byte
	err := c.db.GetContext(ctx, &payload, "SELECT value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, c.fail("get "+key, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, c.fail("get "+key, err)
	}
	return true, nil
}

// DeleteKV removes key from the key-value area.
func (c *Cache) DeleteKV(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return c.fail("delete "+key, err)
	}
	return nil
}
