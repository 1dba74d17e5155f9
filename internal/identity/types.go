package identity

import (
	"encoding/json"
	"time"
)

// Profile is the one-to-one account profile row. Created lazily; a principal
// may not have one yet.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Bio       string    `json:"bio"`
	Phone     string    `json:"phone"`
	BirthDate string    `json:"birth_date"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is a delegation row: owner_id grants member_email a capability
// set. member_id stays empty until the invited email signs in for the first
// time and the resolver links it.
type Membership struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	MemberID    string          `json:"member_id"`
	MemberEmail string          `json:"member_email"`
	Permissions json.RawMessage `json:"permissions"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Identity is the resolved effective identity of a signed-in principal:
// whose data they operate on and with what capabilities.
type Identity struct {
	OwnerID     string
	OwnerName   string
	Permissions map[string]bool
	IsOwner     bool
}

// Can reports whether the identity holds a capability. Owners hold all of
// them.
func (id Identity) Can(capability string) bool {
	if id.IsOwner {
		return true
	}
	return id.Permissions[capability]
}

// CoercePermissions decodes a stored permissions payload, degrading
// null/malformed data to an empty mapping instead of an error.
func CoercePermissions(raw json.RawMessage) map[string]bool {
	if len(raw) == 0 {
		return map[string]bool{}
	}
	var perms map[string]bool
	if err := json.Unmarshal(raw, &perms); err != nil || perms == nil {
		return map[string]bool{}
	}
	return perms
}
