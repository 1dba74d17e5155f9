// Package team is the owner-side counterpart of the identity resolver:
// inviting, adjusting and revoking delegated members.
package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"studiodesk.app/internal/identity"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
)

const membershipsTable = "team_members"

var (
	ErrDuplicateInvite = errors.New("team: member already invited")
	ErrInvalidEmail    = errors.New("team: invalid email")
)

// Service manages the owner's team membership rows.
type Service struct {
	data remote.Data
}

// NewService creates the team service over the remote row store.
func NewService(data remote.Data) *Service {
	return &Service{data: data}
}

// List returns the memberships granted by ownerID, oldest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]identity.Membership, error) {
	var rows []identity.Membership
	err := s.data.Select(ctx, remote.Query{
		Table:  membershipsTable,
		Filter: remote.Filter{"owner_id": ownerID},
		Order:  []remote.Order{{Column: "created_at"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("team: list members: %w", err)
	}
	return rows, nil
}

// Invite grants email the given capability set on ownerID's data. The
// duplicate check runs against the freshly loaded rows only; the data layer
// does not enforce uniqueness of (owner_id, member_email), so two concurrent
// invites can still both land. Self-invitation is not rejected here; the
// resolver treats a self-pointing row as no delegation.
func (s *Service) Invite(ctx context.Context, ownerID, email string, perms map[string]bool) (*identity.Membership, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	existing, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if strings.EqualFold(m.MemberEmail, email) {
			return nil, ErrDuplicateInvite
		}
	}

	if perms == nil {
		perms = map[string]bool{}
	}
	encoded, err := json.Marshal(perms)
	if err != nil {
		return nil, fmt.Errorf("team: encode permissions: %w", err)
	}

	var stored identity.Membership
	err = s.data.Insert(ctx, membershipsTable, remote.Row{
		"owner_id":     ownerID,
		"member_email": email,
		"permissions":  json.RawMessage(encoded),
	}, &stored)
	if err != nil {
		return nil, fmt.Errorf("team: invite %s: %w", email, err)
	}
	obs.LogEvent("team.invited", map[string]any{"owner_id": ownerID, "member_email": email})
	return &stored, nil
}

// UpdatePermissions replaces the capability set of one membership.
func (s *Service) UpdatePermissions(ctx context.Context, ownerID, membershipID string, perms map[string]bool) error {
	if perms == nil {
		perms = map[string]bool{}
	}
	encoded, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("team: encode permissions: %w", err)
	}
	err = s.data.Update(ctx, membershipsTable,
		remote.Row{"permissions": json.RawMessage(encoded)},
		remote.Filter{"id": membershipID, "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("team: update permissions: %w", err)
	}
	return nil
}

// Revoke destroys a delegation.
func (s *Service) Revoke(ctx context.Context, ownerID, membershipID string) error {
	err := s.data.Delete(ctx, membershipsTable, remote.Filter{"id": membershipID, "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("team: revoke membership: %w", err)
	}
	obs.LogEvent("team.revoked", map[string]any{"owner_id": ownerID, "membership_id": membershipID})
	return nil
}
