package board

import (
	"context"
	"sync"

	"studiodesk.app/internal/ids"
	"studiodesk.app/internal/notify"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
)

// ColumnStore is the optimistic store for kanban columns. The store itself is
// the lock boundary: callers trigger operations, the store sequences its own
// state transitions.
type ColumnStore struct {
	data   remote.Data
	scope  Scope
	notify notify.Func

	mu      sync.Mutex
	cache   ownerCache[Column]
	loading bool
}

// NewColumnStore wires a column store to the remote row store and the
// identity scope.
func NewColumnStore(data remote.Data, scope Scope, fn notify.Func) *ColumnStore {
	if fn == nil {
		fn = notify.Discard
	}
	return &ColumnStore{data: data, scope: scope, notify: fn}
}

// Snapshot returns the current rows and loading flag.
func (s *ColumnStore) Snapshot() ([]Column, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRows(s.cache.rows), s.loading
}

// Fetch returns the columns for the current effective owner, serving the
// cached snapshot unless opts.Force is set or the owner changed. On a remote
// failure the store keeps its last good state and surfaces a notification.
func (s *ColumnStore) Fetch(ctx context.Context, opts FetchOptions) []Column {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if rows, hit := s.cache.get(owner); hit && !opts.Force {
		s.mu.Unlock()
		obs.CacheLookup("columns", "hit")
		return copyRows(rows)
	}
	if !opts.Silent {
		s.loading = true
	}
	s.mu.Unlock()
	obs.CacheLookup("columns", "miss")

	var rows []Column
	err := s.data.Select(ctx, remote.Query{
		Table:  columnsTable,
		Filter: remote.Filter{"user_id": owner},
		Order:  []remote.Order{{Column: "position"}},
	}, &rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		obs.LogError("columns.fetch", err, map[string]any{"owner_id": owner})
		s.notify(notify.Error, "Could not load board columns")
		cached, _ := s.cache.get(owner)
		return copyRows(cached)
	}
	s.cache.set(owner, rows)
	return copyRows(rows)
}

// Create splices an optimistic column in immediately and reconciles with the
// stored row through a silent forced refetch, so the temp id never survives.
// On failure the temp row is removed exactly.
func (s *ColumnStore) Create(ctx context.Context, title string) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}

	s.mu.Lock()
	rows, _ := s.cache.get(owner)
	pos := nextPosition(rows)
	temp := Column{ID: ids.NewTemp(), UserID: owner, Title: title, Position: pos}
	s.cache.set(owner, append(copyRows(rows), temp))
	s.mu.Unlock()

	err := s.data.Insert(ctx, columnsTable, remote.Row{
		"user_id":  owner,
		"title":    title,
		"position": pos,
	}, nil)
	if err != nil {
		s.removeByID(owner, temp.ID)
		obs.RollbackObserved("columns", "create")
		obs.MutationObserved("columns", "create", "failed")
		obs.LogError("columns.create", err, map[string]any{"owner_id": owner})
		s.notify(notify.Error, "Could not create column")
		return false
	}

	obs.MutationObserved("columns", "create", "committed")
	s.Fetch(ctx, FetchOptions{Force: true, Silent: true})
	return true
}

// Update applies the partial patch locally first; a failed remote update
// resynchronizes with a full forced refetch since a partial patch cannot be
// cleanly inverted in general.
func (s *ColumnStore) Update(ctx context.Context, id string, patch remote.Row) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}

	s.mu.Lock()
	rows, _ := s.cache.get(owner)
	updated := copyRows(rows)
	for i, col := range updated {
		if col.ID != id {
			continue
		}
		merged, err := mergePatch(col, patch)
		if err != nil {
			s.mu.Unlock()
			obs.LogError("columns.update", err, map[string]any{"column_id": id})
			return false
		}
		updated[i] = merged
	}
	s.cache.set(owner, updated)
	s.mu.Unlock()

	err := s.data.Update(ctx, columnsTable, patch, remote.Filter{"id": id, "user_id": owner})
	if err != nil {
		obs.MutationObserved("columns", "update", "failed")
		obs.LogError("columns.update", err, map[string]any{"column_id": id})
		s.notify(notify.Error, "Could not update column")
		s.Fetch(ctx, FetchOptions{Force: true})
		return false
	}
	obs.MutationObserved("columns", "update", "committed")
	return true
}

// Delete removes the column locally first and restores the exact prior
// snapshot on failure, avoiding the flash a refetch round trip would cause.
func (s *ColumnStore) Delete(ctx context.Context, id string) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}

	s.mu.Lock()
	rows, _ := s.cache.get(owner)
	prior := copyRows(rows)
	kept := make([]Column, 0, len(rows))
	for _, col := range rows {
		if col.ID != id {
			kept = append(kept, col)
		}
	}
	s.cache.set(owner, kept)
	s.mu.Unlock()

	err := s.data.Delete(ctx, columnsTable, remote.Filter{"id": id, "user_id": owner})
	if err != nil {
		s.mu.Lock()
		s.cache.set(owner, prior)
		s.mu.Unlock()
		obs.RollbackObserved("columns", "delete")
		obs.MutationObserved("columns", "delete", "failed")
		obs.LogError("columns.delete", err, map[string]any{"column_id": id})
		s.notify(notify.Error, "Could not delete column")
		return false
	}
	obs.MutationObserved("columns", "delete", "committed")
	return true
}

// Reorder applies the caller's sequence locally, rewrites every position to
// its new index, and issues the per-row updates concurrently. A partial
// failure recovers through a forced refetch; "whatever the rows are now" is
// the correct outcome and a refetch reconstructs it losslessly.
func (s *ColumnStore) Reorder(ctx context.Context, orderedIDs []string) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}

	s.mu.Lock()
	rows, _ := s.cache.get(owner)
	byID := make(map[string]Column, len(rows))
	for _, col := range rows {
		byID[col.ID] = col
	}
	reordered := make([]Column, 0, len(rows))
	for _, id := range orderedIDs {
		col, found := byID[id]
		if !found {
			continue
		}
		col.Position = len(reordered)
		reordered = append(reordered, col)
		delete(byID, id)
	}
	for _, col := range rows {
		if _, leftover := byID[col.ID]; leftover {
			col.Position = len(reordered)
			reordered = append(reordered, col)
			delete(byID, col.ID)
		}
	}
	s.cache.set(owner, reordered)
	s.mu.Unlock()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, col := range reordered {
		wg.Add(1)
		go func(col Column) {
			defer wg.Done()
			err := s.data.Update(ctx, columnsTable, remote.Row{"position": col.Position}, remote.Filter{"id": col.ID, "user_id": owner})
			if err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(col)
	}
	wg.Wait()

	if firstErr != nil {
		obs.MutationObserved("columns", "reorder", "failed")
		obs.LogError("columns.reorder", firstErr, map[string]any{"owner_id": owner})
		s.notify(notify.Error, "Could not save column order")
		s.Fetch(ctx, FetchOptions{Force: true})
		return false
	}
	obs.MutationObserved("columns", "reorder", "committed")
	return true
}

func (s *ColumnStore) removeByID(owner, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, hit := s.cache.get(owner)
	if !hit {
		return
	}
	kept := make([]Column, 0, len(rows))
	for _, col := range rows {
		if col.ID != id {
			kept = append(kept, col)
		}
	}
	s.cache.set(owner, kept)
}

// nextPosition is max(existing)+1, or 0 for an empty collection. Positions
// may be sparse after deletions.
func nextPosition(rows []Column) int {
	if len(rows) == 0 {
		return 0
	}
	max := rows[0].Position
	for _, col := range rows[1:] {
		if col.Position > max {
			max = col.Position
		}
	}
	return max + 1
}
