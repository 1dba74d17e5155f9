package team

import (
	"context"
	"errors"
	"testing"

	"studiodesk.app/internal/identity"
	"studiodesk.app/internal/remote"
)

func TestInviteStoresNormalizedEmail(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc)

	m, err := s.Invite(context.Background(), "owner-1", "  Editor@Example.COM ", map[string]bool{"kanban": true})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if m.MemberEmail != "editor@example.com" {
		t.Fatalf("email not normalized: %q", m.MemberEmail)
	}
	if m.OwnerID != "owner-1" || m.ID == "" {
		t.Fatalf("stored membership wrong: %+v", m)
	}
	if perms := identity.CoercePermissions(m.Permissions); !perms["kanban"] {
		t.Fatalf("permissions not persisted: %s", m.Permissions)
	}
}

func TestInviteRejectsInvalidEmail(t *testing.T) {
	t.Parallel()
	s := NewService(remote.NewInMemory())

	for _, email := range []string{"", "   ", "not-an-email"} {
		if _, err := s.Invite(context.Background(), "owner-1", email, nil); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Invite(%q) = %v, want ErrInvalidEmail", email, err)
		}
	}
}

func TestInviteRejectsDuplicate(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc)

	if _, err := s.Invite(context.Background(), "owner-1", "editor@example.com", nil); err != nil {
		t.Fatalf("invite: %v", err)
	}
	_, err := s.Invite(context.Background(), "owner-1", "EDITOR@example.com", nil)
	if !errors.Is(err, ErrDuplicateInvite) {
		t.Fatalf("expected ErrDuplicateInvite, got %v", err)
	}

	// The same email under a different owner is a distinct delegation.
	if _, err := s.Invite(context.Background(), "owner-2", "editor@example.com", nil); err != nil {
		t.Fatalf("cross-owner invite: %v", err)
	}
}

func TestListScopesAndOrders(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc)
	svc.Seed("team_members",
		remote.Row{"owner_id": "owner-1", "member_email": "a@example.com", "created_at": "2026-01-02T00:00:00Z"},
		remote.Row{"owner_id": "owner-1", "member_email": "b@example.com", "created_at": "2026-01-01T00:00:00Z"},
		remote.Row{"owner_id": "owner-2", "member_email": "c@example.com", "created_at": "2026-01-03T00:00:00Z"},
	)

	rows, err := s.List(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("owner scoping broken: %+v", rows)
	}
	if rows[0].MemberEmail != "b@example.com" {
		t.Fatalf("not oldest first: %+v", rows)
	}
}

func TestUpdatePermissionsScopesByOwner(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc)
	svc.Seed("team_members", remote.Row{"id": "m1", "owner_id": "owner-1", "member_email": "a@example.com", "permissions": map[string]bool{}})

	if err := s.UpdatePermissions(context.Background(), "intruder", "m1", map[string]bool{"kanban": true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, _ := s.List(context.Background(), "owner-1")
	if identity.CoercePermissions(rows[0].Permissions)["kanban"] {
		t.Fatalf("foreign-owner update took effect")
	}

	if err := s.UpdatePermissions(context.Background(), "owner-1", "m1", map[string]bool{"kanban": true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, _ = s.List(context.Background(), "owner-1")
	if !identity.CoercePermissions(rows[0].Permissions)["kanban"] {
		t.Fatalf("owner update lost")
	}
}

func TestRevoke(t *testing.T) {
	svc := remote.NewInMemory()
	s := NewService(svc)
	svc.Seed("team_members", remote.Row{"id": "m1", "owner_id": "owner-1", "member_email": "a@example.com"})

	if err := s.Revoke(context.Background(), "owner-1", "m1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rows := svc.Rows("team_members"); len(rows) != 0 {
		t.Fatalf("membership survived revoke: %v", rows)
	}
}
