package tenauth

import (
	"context"
	"errors"

	internalmetrics "github.com/sinarlabs/tenauth/internal/metrics"
	"github.com/sinarlabs/tenauth/permission"
)

// Effective computes the effective permission mask a set of roles holds
// on one feature at the given tier.
//
// Deny by default throughout: a feature outside the tier's visibility, a
// missing feature record, and an empty role set all yield zero without
// error. Grants from every role are ORed, then the tier's negation mask
// is subtracted; a negated bit is absent from the result no matter how
// many roles grant it.
func (e *Engine) Effective(ctx context.Context, roleIDs []string, tier Tier, featureID string) (permission.Bits, error) {
	feature, err := e.stores.Features.Find(ctx, featureID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if !feature.VisibleTo(tier) {
		return 0, nil
	}
	if len(roleIDs) == 0 {
		return 0, nil
	}

	grants, err := e.stores.Grants.ForRolesAndFeature(ctx, roleIDs, featureID)
	if err != nil {
		return 0, err
	}

	var granted permission.Bits
	for _, g := range grants {
		granted |= g.Permission
	}
	return permission.Effective(granted, feature.NegatedFor(tier)), nil
}

// Authorize checks that the actor's roles hold every required bit on the
// feature, negation applied. It returns ErrAccessDenied on a shortfall
// and propagates storage failures untouched, so an outage is never read
// as a deny.
func (e *Engine) Authorize(ctx context.Context, actor *Actor, featureID string, required permission.Bits) error {
	effective, err := e.Effective(ctx, actor.Roles, actor.Tier, featureID)
	if err != nil {
		return err
	}
	if !effective.Has(required) {
		e.metrics.Inc(internalmetrics.MetricPermissionDenied)
		e.audit.Emit(AuditEvent{
			EventType: AuditPermissionDenied,
			UserID:    actor.ID,
			TenantID:  actor.TenantID,
			Target:    featureID,
			Success:   false,
		})
		return ErrAccessDenied
	}
	e.metrics.Inc(internalmetrics.MetricPermissionAllowed)
	return nil
}

// MatrixRow is one feature's display states on the permission-matrix
// screen.
type MatrixRow struct {
	FeatureID   string
	FeatureName string
	States      map[string]permission.DisplayState
}

// Matrix renders the three-state permission matrix for one role at a
// tier, covering every feature visible to that tier. fresh marks a role
// that has not been saved yet; its actions render disabled instead of
// unassigned until a grant row exists. Negated actions render disabled
// regardless of any grant.
func (e *Engine) Matrix(ctx context.Context, tier Tier, roleID string, fresh bool) ([]MatrixRow, error) {
	features, err := e.stores.Features.VisibleTo(ctx, tier)
	if err != nil {
		return nil, err
	}

	granted := make(map[string]permission.Bits)
	hasGrant := make(map[string]bool)
	if roleID != "" {
		grants, err := e.stores.Grants.ForRoles(ctx, []string{roleID})
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			granted[g.FeatureID] |= g.Permission
			hasGrant[g.FeatureID] = true
		}
	}

	rows := make([]MatrixRow, 0, len(features))
	for i := range features {
		f := &features[i]
		rows = append(rows, MatrixRow{
			FeatureID:   f.ID,
			FeatureName: f.Name,
			States:      e.bitset.Matrix(granted[f.ID], hasGrant[f.ID], f.NegatedFor(tier), fresh),
		})
	}
	return rows, nil
}

// MenuPermissions resolves the actor's effective mask for every feature
// visible to their tier, for side-menu rendering. Unlike the masks baked
// into the access token at issuance, this reads current grant state.
func (e *Engine) MenuPermissions(ctx context.Context, actor *Actor) (map[string]uint64, error) {
	return e.effectiveFeatures(ctx, actor.Roles, actor.Tier)
}
