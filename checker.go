package tenauth

import (
	"context"

	"github.com/sinarlabs/tenauth/permission"
)

// PermissionChecker is the route-guard fast path: one indexed query over
// the grant rows for the caller's roles on one feature, answering "does
// any role grant every required bit".
//
// It deliberately consults grant rows only. Tier negation is stripped
// from grants at write time (provision seeding and SetPermission both
// refuse negated bits), so a stored grant never carries a bit the tier
// cannot hold and the guard can skip the feature-record read. Effective
// is the full read-side evaluation when a feature record may have gained
// negations after its grants were written.
type PermissionChecker struct {
	grants GrantStore
}

// NewPermissionChecker wraps a grant repository.
func NewPermissionChecker(grants GrantStore) *PermissionChecker {
	return &PermissionChecker{grants: grants}
}

// HasPermission reports whether any of the roles grants every bit in
// required on the feature. Zero roles and zero matching grant rows both
// deny. Storage failures are returned as errors, never mapped to a
// deny.
func (c *PermissionChecker) HasPermission(ctx context.Context, roleIDs []string, featureID string, required permission.Bits) (bool, error) {
	if len(roleIDs) == 0 || required == 0 {
		return false, nil
	}

	grants, err := c.grants.ForRolesAndFeature(ctx, roleIDs, featureID)
	if err != nil {
		return false, err
	}

	for _, g := range grants {
		if g.Permission.Has(required) {
			return true, nil
		}
	}
	return false, nil
}

// Checker returns the engine's grant-only route guard.
func (e *Engine) Checker() *PermissionChecker {
	return NewPermissionChecker(e.stores.Grants)
}
