package tenauth

import (
	"context"
	"fmt"
	"time"

	"github.com/sinarlabs/tenauth/permission"
)

// Tier is a tenant's position in the organization hierarchy. Tenants form
// a strict chain: the owner provisions partners, partners provision
// clients. A tenant's tier is fixed at creation.
//
// The wire and storage encoding is the power-of-two bit value (owner=1,
// partner=2, client=4); Go code uses the closed enum and only converts at
// the boundary via Bit and TierFromBit.
type Tier uint8

const (
	// TierOwner is the single root tenant of a deployment.
	TierOwner Tier = iota + 1
	// TierPartner tenants are provisioned by the owner.
	TierPartner
	// TierClient tenants are provisioned by a partner.
	TierClient
)

// Bit returns the serialized authority bit for the tier.
func (t Tier) Bit() int {
	switch t {
	case TierOwner:
		return 1
	case TierPartner:
		return 2
	case TierClient:
		return 4
	default:
		return 0
	}
}

// Key returns the tier's key in a feature's negated-permission map. The
// map is keyed by the decimal authority bit for compatibility with the
// stored documents.
func (t Tier) Key() string {
	return fmt.Sprintf("%d", t.Bit())
}

func (t Tier) String() string {
	switch t {
	case TierOwner:
		return "owner"
	case TierPartner:
		return "partner"
	case TierClient:
		return "client"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Provisions reports whether tier t may provision a tenant of tier target.
func (t Tier) Provisions(target Tier) bool {
	switch target {
	case TierPartner:
		return t == TierOwner
	case TierClient:
		return t == TierPartner
	default:
		return false
	}
}

// TierFromBit parses a stored authority bit. Parsing is strict: an
// unknown bit is a data error, not a silent extra tier.
func TierFromBit(bit int) (Tier, error) {
	switch bit {
	case 1:
		return TierOwner, nil
	case 2:
		return TierPartner, nil
	case 4:
		return TierClient, nil
	default:
		return 0, fmt.Errorf("%w: unknown authority bit %d", ErrMalformedRecord, bit)
	}
}

// Status is the shared lifecycle state for tenants, roles, and users.
type Status uint8

const (
	// StatusInactive records are retained but cannot authenticate or be
	// granted to.
	StatusInactive Status = iota
	// StatusActive is the normal operating state.
	StatusActive
	// StatusSuspended marks administratively frozen records; suspending a
	// tenant cascades to its roles.
	StatusSuspended
)

// Actor is the resolved identity attached to every authenticated request.
// Tier is read fresh from the tenant record at login and refresh, never
// trusted from client state.
type Actor struct {
	ID       string
	Username string
	TenantID string
	Roles    []string
	Tier     Tier

	// Features is the effective (grant minus negation) bitmask per
	// feature, resolved at token issuance for menu rendering.
	Features map[string]uint64

	// JTI and SessionID identify the access token and refresh session the
	// actor authenticated with; used by logout and revocation.
	JTI       string
	SessionID string
}

// Tenant is an organization record.
type Tenant struct {
	ID             string
	Name           string
	Initial        string
	Email          string
	Phone          string
	Address        string
	Description    string
	Tier           Tier
	StorageQuotaMB int64
	Status         Status
	CreatedAt      time.Time
	ModifiedAt     time.Time
}

// Role belongs to exactly one tenant.
type Role struct {
	ID         string
	TenantID   string
	Name       string
	Color      string
	Status     Status
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Feature is a named capability gated independently of any single route.
// Feature rows are deployment-level seed data, not per-tenant.
type Feature struct {
	ID   string
	Name string

	// AuthorityMask is the bitwise OR of the tier bits the feature is
	// visible to; visibility is tested with AND.
	AuthorityMask int

	// Negated maps a tier key (decimal authority bit as string) to the
	// action bits always denied for that tier, overriding any role grant.
	// A missing tier key means no negation.
	Negated map[string]permission.Bits
}

// VisibleTo reports whether the feature is exposed to the tier at all.
func (f *Feature) VisibleTo(t Tier) bool {
	return f.AuthorityMask&t.Bit() != 0
}

// NegatedFor returns the negation mask for the tier; zero when the tier
// has no entry.
func (f *Feature) NegatedFor(t Tier) permission.Bits {
	return f.Negated[t.Key()]
}

// FeatureGrant links one role to one feature with a granted action mask.
// At most one grant row exists per (role, feature) pair by construction.
type FeatureGrant struct {
	ID         string
	TenantID   string
	RoleID     string
	FeatureID  string
	Permission permission.Bits
}

// User is an account record. Roles holds role IDs within the user's
// tenant.
type User struct {
	ID           string
	TenantID     string
	Username     string
	Email        string
	PasswordHash string
	Roles        []string
	Status       Status
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// TenantStore is the organization repository.
type TenantStore interface {
	Find(ctx context.Context, id string) (*Tenant, error)
	// FindByTier returns any tenant at the given tier, or ErrNotFound.
	// Provisioning uses it to enforce the single-owner invariant.
	FindByTier(ctx context.Context, tier Tier) (*Tenant, error)
	Insert(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id string) error
	// UpdateStatus flips the tenant lifecycle state; callers cascade to
	// roles separately.
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// RoleStore is the role repository.
type RoleStore interface {
	Find(ctx context.Context, id string) (*Role, error)
	Insert(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	// UpdateStatusByTenant cascades a tenant status change to its roles.
	UpdateStatusByTenant(ctx context.Context, tenantID string, status Status) error
}

// UserStore is the account repository.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	// FindByIdentifier matches username or email, or ErrNotFound.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	Insert(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// FeatureStore is the read-mostly feature catalog.
type FeatureStore interface {
	Find(ctx context.Context, id string) (*Feature, error)
	// VisibleTo lists every feature whose authority mask includes the tier.
	VisibleTo(ctx context.Context, tier Tier) ([]Feature, error)
}

// GrantStore is the role↔feature grant repository. SetBits and ClearBits
// are atomic at the storage layer so concurrent toggles on the same
// (role, feature) pair cannot lose writes.
type GrantStore interface {
	Find(ctx context.Context, roleID, featureID string) (*FeatureGrant, error)
	// ForRolesAndFeature returns grant rows for any of the roles on one
	// feature (the route-guard fast path).
	ForRolesAndFeature(ctx context.Context, roleIDs []string, featureID string) ([]FeatureGrant, error)
	// ForRoles returns all grant rows for the roles (batch matrix path).
	ForRoles(ctx context.Context, roleIDs []string) ([]FeatureGrant, error)
	Insert(ctx context.Context, grant *FeatureGrant) error
	InsertMany(ctx context.Context, grants []FeatureGrant) error
	SetBits(ctx context.Context, roleID, featureID string, bits permission.Bits) error
	ClearBits(ctx context.Context, roleID, featureID string, bits permission.Bits) error
	DeleteByRole(ctx context.Context, roleID string) error
}

// ActionStore loads the deployment's action-bit layout (the ROLEACTION
// configuration record). Returning ErrNotFound makes the engine fall back
// to permission.DefaultActions.
type ActionStore interface {
	RoleActions(ctx context.Context) (map[string]uint64, error)
}

// Stores bundles the typed repositories the engine depends on.
type Stores struct {
	Tenants  TenantStore
	Roles    RoleStore
	Users    UserStore
	Features FeatureStore
	Grants   GrantStore
	Actions  ActionStore
}
