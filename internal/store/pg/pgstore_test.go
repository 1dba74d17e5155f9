package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"studiodesk.app/internal/remote"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestSelectBuildsFilteredOrderedQuery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("select * from board_columns where user_id = $1 order by position asc")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "position"}).
			AddRow("c1", "u1", []byte("Idea"), 0).
			AddRow("c2", "u1", []byte("Edit"), 1))

	var rows []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Position int    `json:"position"`
	}
	err := store.Select(context.Background(), remote.Query{
		Table:  "board_columns",
		Filter: remote.Filter{"user_id": "u1"},
		Order:  []remote.Order{{Column: "position"}},
	}, &rows)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 || rows[0].Title != "Idea" || rows[1].Position != 1 {
		t.Fatalf("decoded rows wrong: %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertReturnsStoredRepresentation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("insert into videos (title, user_id) values ($1, $2) returning *")).
		WithArgs("New", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title"}).
			AddRow("v1", "u1", []byte("New")))

	var stored remote.Row
	err := store.Insert(context.Background(), "videos", remote.Row{"title": "New", "user_id": "u1"}, &stored)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored["id"] != "v1" {
		t.Fatalf("stored row wrong: %v", stored)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateScopesByFilter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("update videos set title = $1 where id = $2 and user_id = $3")).
		WithArgs("X", "v1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), "videos",
		remote.Row{"title": "X"}, remote.Filter{"id": "v1", "user_id": "u1"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateEncodesJSONPatchValues(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("update team_members set permissions = $1 where id = $2")).
		WithArgs([]byte(`{"kanban":true}`), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), "team_members",
		remote.Row{"permissions": map[string]bool{"kanban": true}}, remote.Filter{"id": "m1"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("delete from videos where id = $1 and user_id = $2")).
		WithArgs("v1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Delete(context.Background(), "videos", remote.Filter{"id": "v1", "user_id": "u1"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRejectsBadIdentifiers(t *testing.T) {
	t.Parallel()
	store := NewStore(nil)

	err := store.Select(context.Background(), remote.Query{Table: "videos; drop table videos"}, &[]remote.Row{})
	if !errors.Is(err, remote.ErrInvalidInput) {
		t.Fatalf("bad table accepted: %v", err)
	}
	err = store.Update(context.Background(), "videos", remote.Row{"bad-col": 1}, nil)
	if !errors.Is(err, remote.ErrInvalidInput) {
		t.Fatalf("bad column accepted: %v", err)
	}
	err = store.Delete(context.Background(), "videos", remote.Filter{"1col": "x"})
	if !errors.Is(err, remote.ErrInvalidInput) {
		t.Fatalf("bad filter column accepted: %v", err)
	}
}
