package board

import (
	"context"
	"errors"
	"sync"
	"testing"

	"studiodesk.app/internal/ids"
	"studiodesk.app/internal/notify"
	"studiodesk.app/internal/remote"
)

type stubScope struct {
	user  string
	owner string
	ok    bool
}

func (s stubScope) CurrentScope() (string, string, bool) {
	return s.user, s.owner, s.ok
}

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) fn(level notify.Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func seedColumns(svc *remote.InMemory, owner string, titles ...string) {
	for i, title := range titles {
		svc.Seed("board_columns", remote.Row{"user_id": owner, "title": title, "position": i})
	}
}

func newColumnFixture(t *testing.T, titles ...string) (*remote.InMemory, *ColumnStore, *recorder, string) {
	t.Helper()
	svc := remote.NewInMemory()
	owner := svc.SeedUser("owner@example.com", "pw")
	seedColumns(svc, owner.ID, titles...)
	rec := &recorder{}
	store := NewColumnStore(svc, stubScope{user: owner.ID, owner: owner.ID, ok: true}, rec.fn)
	return svc, store, rec, owner.ID
}

func TestFetchServesCacheForUnchangedOwner(t *testing.T) {
	svc, store, _, _ := newColumnFixture(t, "Idea", "Edit")
	ctx := context.Background()

	first := store.Fetch(ctx, FetchOptions{})
	if len(first) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(first))
	}

	// A cached fetch must not touch the network at all.
	svc.FailNext("select:board_columns", errors.New("network down"))
	second := store.Fetch(ctx, FetchOptions{})
	if len(second) != 2 {
		t.Fatalf("cached fetch returned %d columns", len(second))
	}
}

func TestFetchWithoutScopeIsNoop(t *testing.T) {
	svc := remote.NewInMemory()
	store := NewColumnStore(svc, stubScope{}, nil)
	if rows := store.Fetch(context.Background(), FetchOptions{}); rows != nil {
		t.Fatalf("expected nil without a resolved owner, got %v", rows)
	}
	if store.Create(context.Background(), "X") {
		t.Fatalf("create must no-op without a resolved owner")
	}
}

func TestFetchKeepsLastGoodStateOnError(t *testing.T) {
	svc, store, rec, _ := newColumnFixture(t, "Idea", "Edit")
	ctx := context.Background()

	store.Fetch(ctx, FetchOptions{})
	svc.FailNext("select:board_columns", errors.New("boom"))
	rows := store.Fetch(ctx, FetchOptions{Force: true})
	if len(rows) != 2 {
		t.Fatalf("expected last good state, got %d rows", len(rows))
	}
	if rec.count() == 0 {
		t.Fatalf("expected an error notification")
	}
}

func TestCreateRoundTrip(t *testing.T) {
	_, store, _, _ := newColumnFixture(t, "Idea")
	ctx := context.Background()

	before := store.Fetch(ctx, FetchOptions{})
	if !store.Create(ctx, "Script") {
		t.Fatalf("create failed")
	}
	after, _ := store.Snapshot()
	if len(after) != len(before)+1 {
		t.Fatalf("expected %d columns, got %d", len(before)+1, len(after))
	}
	for _, col := range after {
		if ids.IsTemp(col.ID) {
			t.Fatalf("temp id survived the post-commit refetch: %q", col.ID)
		}
	}
}

func TestCreatePositionBoundaries(t *testing.T) {
	t.Parallel()

	t.Run("empty collection", func(t *testing.T) {
		svc, store, _, owner := newColumnFixture(t)
		ctx := context.Background()
		store.Fetch(ctx, FetchOptions{})
		if !store.Create(ctx, "First") {
			t.Fatalf("create failed")
		}
		rows := svc.Rows("board_columns")
		if len(rows) != 1 || rows[0]["position"] != 0 {
			t.Fatalf("expected position 0 for %s, got %v", owner, rows)
		}
	})

	t.Run("sparse positions", func(t *testing.T) {
		svc := remote.NewInMemory()
		owner := svc.SeedUser("owner@example.com", "pw")
		svc.Seed("board_columns",
			remote.Row{"user_id": owner.ID, "title": "A", "position": 0},
			remote.Row{"user_id": owner.ID, "title": "B", "position": 2},
			remote.Row{"user_id": owner.ID, "title": "C", "position": 5},
		)
		store := NewColumnStore(svc, stubScope{user: owner.ID, owner: owner.ID, ok: true}, nil)
		ctx := context.Background()
		store.Fetch(ctx, FetchOptions{})
		if !store.Create(ctx, "D") {
			t.Fatalf("create failed")
		}
		for _, row := range svc.Rows("board_columns") {
			if row["title"] == "D" && row["position"] != 6 {
				t.Fatalf("expected position 6, got %v", row["position"])
			}
		}
	})
}

func TestCreateRollbackIsExact(t *testing.T) {
	svc, store, rec, _ := newColumnFixture(t, "Idea", "Edit")
	ctx := context.Background()

	before := store.Fetch(ctx, FetchOptions{})
	svc.FailNext("insert:board_columns", errors.New("boom"))
	if store.Create(ctx, "Doomed") {
		t.Fatalf("create should have failed")
	}

	after, _ := store.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("rollback not exact: %d vs %d rows", len(after), len(before))
	}
	for i := range after {
		if after[i].ID != before[i].ID {
			t.Fatalf("rollback reordered rows: %v vs %v", after, before)
		}
	}
	if rec.count() == 0 {
		t.Fatalf("expected an error notification")
	}
}

func TestUpdateAppliesOptimisticallyAndResyncsOnFailure(t *testing.T) {
	svc, store, rec, _ := newColumnFixture(t, "Idea", "Edit")
	ctx := context.Background()

	rows := store.Fetch(ctx, FetchOptions{})
	target := rows[0].ID

	if !store.Update(ctx, target, remote.Row{"title": "Research"}) {
		t.Fatalf("update failed")
	}
	snapshot, _ := store.Snapshot()
	if snapshot[0].Title != "Research" {
		t.Fatalf("optimistic update not applied: %+v", snapshot[0])
	}

	svc.FailNext("update:board_columns", errors.New("boom"))
	if store.Update(ctx, target, remote.Row{"title": "Ghost"}) {
		t.Fatalf("update should have failed")
	}
	// The failed patch is undone by the forced refetch.
	snapshot, _ = store.Snapshot()
	if snapshot[0].Title != "Research" {
		t.Fatalf("refetch did not resync, got %+v", snapshot[0])
	}
	if rec.count() == 0 {
		t.Fatalf("expected an error notification")
	}
}

func TestDeleteRestoresSnapshotOnFailure(t *testing.T) {
	svc, store, _, _ := newColumnFixture(t, "Idea", "Edit", "Publish")
	ctx := context.Background()

	rows := store.Fetch(ctx, FetchOptions{})
	target := rows[1].ID

	svc.FailNext("delete:board_columns", errors.New("boom"))
	if store.Delete(ctx, target) {
		t.Fatalf("delete should have failed")
	}
	after, _ := store.Snapshot()
	if len(after) != len(rows) {
		t.Fatalf("snapshot not restored: %d vs %d rows", len(after), len(rows))
	}
	for i := range after {
		if after[i].ID != rows[i].ID {
			t.Fatalf("restored order differs at %d", i)
		}
	}
}

func TestDeleteCommits(t *testing.T) {
	svc, store, _, _ := newColumnFixture(t, "Idea", "Edit")
	ctx := context.Background()

	rows := store.Fetch(ctx, FetchOptions{})
	if !store.Delete(ctx, rows[0].ID) {
		t.Fatalf("delete failed")
	}
	if remaining := svc.Rows("board_columns"); len(remaining) != 1 {
		t.Fatalf("expected 1 remaining row, got %d", len(remaining))
	}
}

func TestReorderRewritesDensePositions(t *testing.T) {
	_, store, _, _ := newColumnFixture(t, "A", "B", "C")
	ctx := context.Background()

	rows := store.Fetch(ctx, FetchOptions{})
	newOrder := []string{rows[2].ID, rows[0].ID, rows[1].ID}
	if !store.Reorder(ctx, newOrder) {
		t.Fatalf("reorder failed")
	}

	snapshot, _ := store.Snapshot()
	for i, col := range snapshot {
		if col.ID != newOrder[i] {
			t.Fatalf("order not applied at %d: %+v", i, snapshot)
		}
		if col.Position != i {
			t.Fatalf("position not dense at %d: %+v", i, col)
		}
	}
}

func TestReorderPartialFailureRecoversViaRefetch(t *testing.T) {
	svc, store, rec, _ := newColumnFixture(t, "A", "B", "C")
	ctx := context.Background()

	rows := store.Fetch(ctx, FetchOptions{})
	svc.FailNext("update:board_columns", errors.New("boom"))
	ok := store.Reorder(ctx, []string{rows[2].ID, rows[0].ID, rows[1].ID})
	if ok {
		t.Fatalf("reorder should report failure")
	}
	if rec.count() == 0 {
		t.Fatalf("expected an error notification")
	}

	// Whatever order survived, the refetched snapshot must be internally
	// consistent: sorted by position as served.
	snapshot, _ := store.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 rows after recovery, got %d", len(snapshot))
	}
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i].Position < snapshot[i-1].Position {
			t.Fatalf("positions not ordered after recovery: %+v", snapshot)
		}
	}
}
