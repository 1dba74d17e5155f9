// Package board holds the optimistic collection stores behind the kanban
// views: a locally cached snapshot per effective owner, mutations applied
// immediately, and a defined rollback or reconciliation path for every remote
// failure.
package board

import (
	"encoding/json"
	"time"

	"studiodesk.app/internal/remote"
)

const (
	columnsTable = "board_columns"
	videosTable  = "videos"
)

// Column is one kanban pipeline stage. Position is a dense small integer
// assigned at creation and rewritten wholesale on reorder.
type Column struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Video is one pipeline item, attached to a column and ordered within it.
type Video struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ColumnID    string    `json:"column_id"`
	ChannelID   string    `json:"channel_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

// Scope supplies the signed-in user and effective owner a store operates
// under. Stores no-op whenever ok is false; they never fire a write scoped to
// an undefined owner.
type Scope interface {
	CurrentScope() (userID, ownerID string, ok bool)
}

// FetchOptions control a fetch. Force bypasses the owner-keyed cache; Silent
// suppresses the loading flag, used for reconciliation fetches after a
// mutation the user just triggered.
type FetchOptions struct {
	Force  bool
	Silent bool
}

// ownerCache is a single snapshot slot keyed by effective owner id. Changing
// owners invalidates it implicitly; a stale in-flight fetch is superseded by
// the next write for the current owner (last-write-wins on the key).
type ownerCache[T any] struct {
	owner string
	rows  []T
	ok    bool
}

func (c *ownerCache[T]) get(owner string) ([]T, bool) {
	if !c.ok || c.owner != owner {
		return nil, false
	}
	return c.rows, true
}

func (c *ownerCache[T]) set(owner string, rows []T) {
	c.owner = owner
	c.rows = rows
	c.ok = true
}

func copyRows[T any](rows []T) []T {
	out := make([]T, len(rows))
	copy(out, rows)
	return out
}

// mergePatch overlays a partial row update onto a typed row through a JSON
// round trip, the same shape the remote store applies server side.
func mergePatch[T any](row T, patch remote.Row) (T, error) {
	var zero T
	data, err := json.Marshal(row)
	if err != nil {
		return zero, err
	}
	base := map[string]any{}
	if err := json.Unmarshal(data, &base); err != nil {
		return zero, err
	}
	for k, v := range patch {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return zero, err
	}
	return out, nil
}
