package lifecycle

import "context"

// Capability names the permission classes the controller gates on.
type Capability string

const (
	CapPropose   Capability = "propose"   // register a new consumer
	CapUpdateOwn Capability = "updateown" // update a consumer you own
	CapManage    Capability = "manage"    // approve/reject/disable/reenable
	CapSuppress  Capability = "suppress"  // view and act on suppressed records
)

// Actor is the authenticated principal driving a lifecycle action.
// Handlers build it from the JWT subject plus the user row; the zero
// value means "not logged in".
type Actor struct {
	ID             uint64
	Email          string
	EmailConfirmed bool
	Blocked        bool
	Role           string
}

// Capabilities answers permission queries for an actor. It is an
// injected collaborator so deployments can back it with whatever
// rights system they run.
type Capabilities interface {
	Has(ctx context.Context, actor Actor, cap Capability) (bool, error)
}

// RoleCapabilities is the built-in Capabilities implementation: a
// static map from role name to the capability set that role carries.
type RoleCapabilities map[string][]Capability

// DefaultRoleCapabilities mirrors the three roles the user store
// issues. Stewards are the only role that can touch suppressed
// records.
func DefaultRoleCapabilities() RoleCapabilities {
	return RoleCapabilities{
		"USER":    {CapPropose, CapUpdateOwn},
		"ADMIN":   {CapPropose, CapUpdateOwn, CapManage},
		"STEWARD": {CapPropose, CapUpdateOwn, CapManage, CapSuppress},
	}
}

func (m RoleCapabilities) Has(_ context.Context, actor Actor, cap Capability) (bool, error) {
	for _, c := range m[actor.Role] {
		if c == cap {
			return true, nil
		}
	}
	return false, nil
}
