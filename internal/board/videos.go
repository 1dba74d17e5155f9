package board

import (
	"context"
	"sync"

	"studiodesk.app/internal/ids"
	"studiodesk.app/internal/notify"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
)

// VideoStore applies the optimistic store pattern to the video collection:
// larger, filterable by column, and with a batch update path.
type VideoStore struct {
	data   remote.Data
	scope  Scope
	notify notify.Func

	mu      sync.Mutex
	cache   ownerCache[Video]
	loading bool
}

// NewVideoStore wires a video store to the remote row store and the identity
// scope.
func NewVideoStore(data remote.Data, scope Scope, fn notify.Func) *VideoStore {
	if fn == nil {
		fn = notify.Discard
	}
	return &VideoStore{data: data, scope: scope, notify: fn}
}

// Snapshot returns the current rows and loading flag.
func (s *VideoStore) Snapshot() ([]Video, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRows(s.cache.rows), s.loading
}

// ForColumn filters the current snapshot down to one column, ordered as
// fetched (position ascending).
func (s *VideoStore) ForColumn(columnID string) []Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Video, 0)
	for _, v := range s.cache.rows {
		if v.ColumnID == columnID {
			out = append(out, v)
		}
	}
	return out
}

// Fetch returns the videos for the current effective owner. Cache semantics
// match ColumnStore.Fetch.
func (s *VideoStore) Fetch(ctx context.Context, opts FetchOptions) []Video {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if rows, hit := s.cache.get(owner); hit && !opts.Force {
		s.mu.Unlock()
		obs.CacheLookup("videos", "hit")
		return copyRows(rows)
	}
	if !opts.Silent {
		s.loading = true
	}
	s.mu.Unlock()
	obs.CacheLookup("videos", "miss")

	var rows []Video
	err := s.data.Select(ctx, remote.Query{
		Table:  videosTable,
		Filter: remote.Filter{"user_id": owner},
		Order:  []remote.Order{{Column: "position"}},
	}, &rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		obs.LogError("videos.fetch", err, map[string]any{"owner_id": owner})
		s.notify(notify.Error, "Could not load videos")
		cached, _ := s.cache.get(owner)
		return copyRows(cached)
	}
	s.cache.set(owner, rows)
	return copyRows(rows)
}

// Draft is the caller-supplied part of a new video.
type Draft struct {
	ColumnID    string
	ChannelID   string
	Title       string
	Description string
}

// Create splices an optimistic video into its column immediately; commit and
// rollback semantics match ColumnStore.Create. Intra-column position is
// max(existing in column)+1.
func (s *VideoStore) Create(ctx context.Context, draft Draft) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}

	s.mu.Lock()
	rows, _ := s.cache.get(owner)
	pos := nextColumnPosition(rows, draft.ColumnID)
	temp := Video{
		ID:          ids.NewTemp(),
		UserID:      owner,
		ColumnID:    draft.ColumnID,
		ChannelID:   draft.ChannelID,
		Title:       draft.Title,
		Description: draft.Description,
		Position:    pos,
	}
	s.cache.set(owner, append(copyRows(rows), temp))
	s.mu.Unlock()

	row := remote.Row{
		"user_id":     owner,
		"column_id":   draft.ColumnID,
		"title":       draft.Title,
		"description": draft.Description,
		"position":    pos,
	}
	if draft.ChannelID != "" {
		row["channel_id"] = draft.ChannelID
	}
	if err := s.data.Insert(ctx, videosTable, row, nil); err != nil {
		s.removeByID(owner, temp.ID)
		obs.RollbackObserved("videos", "create")
		obs.MutationObserved("videos", "create", "failed")
		obs.LogError("videos.create", err, map[string]any{"owner_id": owner})
		s.notify(notify.Error, "Could not create video")
		return false
	}

	obs.MutationObserved("videos", "create", "committed")
	s.Fetch(ctx, FetchOptions{Force: true, Silent: true})
	return true
}

// Update applies the patch locally first and resynchronizes with a forced
// refetch on failure.
func (s *VideoStore) Update(ctx context.Context, id string, patch remote.Row) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}

	s.mu.Lock()
	rows, _ := s.cache.get(owner)
	updated := copyRows(rows)
	for i, v := range updated {
		if v.ID != id {
			continue
		}
		merged, err := mergePatch(v, patch)
		if err != nil {
			s.mu.Unlock()
			obs.LogError("videos.update", err, map[string]any{"video_id": id})
			return false
		}
		updated[i] = merged
	}
	s.cache.set(owner, updated)
	s.mu.Unlock()

	err := s.data.Update(ctx, videosTable, patch, remote.Filter{"id": id, "user_id": owner})
	if err != nil {
		obs.MutationObserved("videos", "update", "failed")
		obs.LogError("videos.update", err, map[string]any{"video_id": id})
		s.notify(notify.Error, "Could not update video")
		s.Fetch(ctx, FetchOptions{Force: true})
		return false
	}
	obs.MutationObserved("videos", "update", "committed")
	return true
}

// Delete removes the video locally first and restores the exact prior
// snapshot on failure.
func (s *VideoStore) Delete(ctx context.Context, id string) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}

	s.mu.Lock()
	rows, _ := s.cache.get(owner)
	prior := copyRows(rows)
	kept := make([]Video, 0, len(rows))
	for _, v := range rows {
		if v.ID != id {
			kept = append(kept, v)
		}
	}
	s.cache.set(owner, kept)
	s.mu.Unlock()

	err := s.data.Delete(ctx, videosTable, remote.Filter{"id": id, "user_id": owner})
	if err != nil {
		s.mu.Lock()
		s.cache.set(owner, prior)
		s.mu.Unlock()
		obs.RollbackObserved("videos", "delete")
		obs.MutationObserved("videos", "delete", "failed")
		obs.LogError("videos.delete", err, map[string]any{"video_id": id})
		s.notify(notify.Error, "Could not delete video")
		return false
	}
	obs.MutationObserved("videos", "delete", "committed")
	return true
}

// BatchUpdate is one batch entry for BulkUpdate.
type BatchUpdate struct {
	ID    string
	Patch remote.Row
}

// BulkUpdate issues all updates concurrently and then unconditionally forces
// a refetch, the simplest policy that leaves the store consistent for this
// rarely used path.
func (s *VideoStore) BulkUpdate(ctx context.Context, updates []BatchUpdate) bool {
	_, owner, ok := s.scope.CurrentScope()
	if !ok {
		return false
	}
	if len(updates) == 0 {
		return true
	}

	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, u := range updates {
		wg.Add(1)
		go func(u BatchUpdate) {
			defer wg.Done()
			err := s.data.Update(ctx, videosTable, u.Patch, remote.Filter{"id": u.ID, "user_id": owner})
			if err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(u)
	}
	wg.Wait()

	s.Fetch(ctx, FetchOptions{Force: true})

	if firstErr != nil {
		obs.MutationObserved("videos", "bulk_update", "failed")
		obs.LogError("videos.bulk_update", firstErr, map[string]any{"owner_id": owner, "count": len(updates)})
		s.notify(notify.Error, "Could not apply all video updates")
		return false
	}
	obs.MutationObserved("videos", "bulk_update", "committed")
	return true
}

func (s *VideoStore) removeByID(owner, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, hit := s.cache.get(owner)
	if !hit {
		return
	}
	kept := make([]Video, 0, len(rows))
	for _, v := range rows {
		if v.ID != id {
			kept = append(kept, v)
		}
	}
	s.cache.set(owner, kept)
}

func nextColumnPosition(rows []Video, columnID string) int {
	max := -1
	for _, v := range rows {
		if v.ColumnID == columnID && v.Position > max {
			max = v.Position
		}
	}
	return max + 1
}
