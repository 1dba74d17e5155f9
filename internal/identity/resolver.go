package identity

import (
	"context"
	"sync"

	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
)

const (
	profilesTable    = "profiles"
	membershipsTable = "team_members"
)

// Resolver determines the effective data owner and capability set for a
// signed-in principal. It is idempotent and safe to call repeatedly; any
// unexpected failure resolves to self-ownership rather than an unresolved
// identity.
type Resolver struct {
	data remote.Data
}

// NewResolver creates a resolver over the remote row store.
func NewResolver(data remote.Data) *Resolver {
	return &Resolver{data: data}
}

// Result carries the resolved identity together with the principal's own
// profile row (nil when none exists yet).
type Result struct {
	Profile  *Profile
	Identity Identity
}

// Resolve computes the effective identity for user.
//
// The two initial lookups (own profile, membership by member id) run
// concurrently and are both awaited before branching. A membership found only
// by email gets its member_id backfilled in the background so future id
// lookups succeed.
func (r *Resolver) Resolve(ctx context.Context, user remote.User) Result {
	var (
		wg         sync.WaitGroup
		profile    *Profile
		profErr    error
		membership *Membership
		memErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		profile, profErr = r.findProfile(ctx, user.ID)
	}()
	go func() {
		defer wg.Done()
		membership, memErr = r.findMembership(ctx, remote.Filter{"member_id": user.ID})
	}()
	wg.Wait()

	if profErr != nil {
		obs.LogError("identity.profile_lookup", profErr, map[string]any{"user_id": user.ID})
	}

	if memErr == nil && membership == nil && user.Email != "" {
		membership, memErr = r.findMembership(ctx, remote.Filter{"member_email": user.Email})
		if memErr == nil && membership != nil && membership.MemberID == "" {
			// Self-heal future id-based lookups. Not awaited, failure ignored.
			rowID := membership.ID
			go func() {
				bg := context.WithoutCancel(ctx)
				if err := r.data.Update(bg, membershipsTable, remote.Row{"member_id": user.ID}, remote.Filter{"id": rowID}); err != nil {
					obs.LogError("identity.backfill_member_id", err, map[string]any{"membership_id": rowID})
				}
			}()
		}
	}

	if memErr != nil {
		obs.LogError("identity.membership_lookup", memErr, map[string]any{"user_id": user.ID})
		obs.ResolutionObserved("fallback")
		return Result{Profile: profile, Identity: selfOwner(user.ID)}
	}

	if membership != nil && membership.OwnerID != "" && membership.OwnerID != user.ID {
		obs.ResolutionObserved("member")
		return Result{
			Profile: profile,
			Identity: Identity{
				OwnerID:     membership.OwnerID,
				Permissions: CoercePermissions(membership.Permissions),
				IsOwner:     false,
			},
		}
	}

	// No delegation, or a membership row pointing at the principal itself:
	// the principal owns their own data.
	obs.ResolutionObserved("owner")
	return Result{Profile: profile, Identity: selfOwner(user.ID)}
}

// LookupOwnerName fetches the delegator's display name for UI labeling. The
// caller runs it off the resolution path; failure leaves the name empty.
func (r *Resolver) LookupOwnerName(ctx context.Context, ownerID string) (string, error) {
	p, err := r.findProfile(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	return p.FullName, nil
}

func selfOwner(userID string) Identity {
	return Identity{OwnerID: userID, Permissions: map[string]bool{}, IsOwner: true}
}

func (r *Resolver) findProfile(ctx context.Context, userID string) (*Profile, error) {
	var rows []Profile
	if err := r.data.Select(ctx, remote.Query{Table: profilesTable, Filter: remote.Filter{"id": userID}}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *Resolver) findMembership(ctx context.Context, filter remote.Filter) (*Membership, error) {
	var rows []Membership
	if err := r.data.Select(ctx, remote.Query{Table: membershipsTable, Filter: filter}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
