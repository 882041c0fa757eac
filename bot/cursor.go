package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"marketing-analytics/utils"
)

// CursorStore persists the id of the last handled update, so a restart does
// not replay or skip messages.
type CursorStore interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, lastUpdateID int64) error
}

// RedisCursorKey is the key RedisCursor keeps the cursor under.
const RedisCursorKey = "bot:last_update_id"

type RedisCursor struct {
	cache utils.RedisClient
}

func NewRedisCursor(cache utils.RedisClient) *RedisCursor {
	return &RedisCursor{cache: cache}
}

func (r *RedisCursor) Load(ctx context.Context) (int64, error) {
	raw, err := r.cache.GetFromCache(ctx, RedisCursorKey)
	if errors.Is(err, utils.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load bot cursor: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bot cursor %q is not a number: %w", raw, err)
	}
	return id, nil
}

func (r *RedisCursor) Save(ctx context.Context, lastUpdateID int64) error {
	if err := r.cache.SetToCache(ctx, RedisCursorKey, strconv.FormatInt(lastUpdateID, 10), 0); err != nil {
		return fmt.Errorf("save bot cursor: %w", err)
	}
	return nil
}

// FileCursor keeps the cursor in a small JSON file next to the store.
type FileCursor struct {
	path string
}

type cursorFile struct {
	LastUpdateID int64 `json:"last_update_id"`
}

func NewFileCursor(path string) *FileCursor {
	return &FileCursor{path: path}
}

func (f *FileCursor) Load(ctx context.Context) (int64, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load bot cursor: %w", err)
	}
	var c cursorFile
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, fmt.Errorf("parse bot cursor %s: %w", f.path, err)
	}
	return c.LastUpdateID, nil
}

func (f *FileCursor) Save(ctx context.Context, lastUpdateID int64) error {
	data, err := json.Marshal(cursorFile{LastUpdateID: lastUpdateID})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".cursor-*")
	if err != nil {
		return fmt.Errorf("save bot cursor: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save bot cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save bot cursor: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("save bot cursor: %w", err)
	}
	return nil
}
