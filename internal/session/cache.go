package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"studiodesk.app/internal/remote"
)

// Cache persists the session across client restarts. Sign-out wipes it before
// the remote call goes out.
type Cache struct {
	path string
}

// NewCache places the session file under the user cache directory.
func NewCache() (*Cache, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("session: locate cache dir: %w", err)
	}
	return &Cache{path: filepath.Join(dir, "studiodesk", "session.json")}, nil
}

// NewCacheAt uses an explicit file path, mainly for tests.
func NewCacheAt(path string) *Cache {
	return &Cache{path: path}
}

// Load returns the persisted session, or nil when none is stored.
func (c *Cache) Load() (*remote.Session, error) {
	if c == nil {
		return nil, nil
	}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess remote.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt cache is the same as no cache.
		return nil, nil
	}
	return &sess, nil
}

// Store writes the session with owner-only permissions.
func (c *Cache) Store(sess *remote.Session) error {
	if c == nil || sess == nil {
		return nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// Clear removes the persisted session.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	err := os.Remove(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
