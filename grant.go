package tenauth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	internalmetrics "github.com/sinarlabs/tenauth/internal/metrics"
)

// SetPermission toggles one named action on a role's feature grant and
// reports the resulting state (true when the bit is now set).
//
// The toggle refuses actions the caller's tier has negated for the
// feature, keeping stored grants free of bits the tier cannot hold. The
// bit flip itself is a single atomic bitwise update at the storage
// layer, so two concurrent toggles on different bits of the same grant
// row both land.
func (e *Engine) SetPermission(ctx context.Context, actor *Actor, roleID, featureID, action string) (bool, error) {
	bit, ok := e.bitset.Bit(action)
	if !ok {
		return false, ErrUnknownAction
	}

	feature, err := e.stores.Features.Find(ctx, featureID)
	if err != nil {
		return false, err
	}
	if !feature.VisibleTo(actor.Tier) {
		return false, ErrAccessDenied
	}
	if feature.NegatedFor(actor.Tier)&bit != 0 {
		return false, ErrActionNegated
	}

	role, err := e.stores.Roles.Find(ctx, roleID)
	if err != nil {
		return false, err
	}
	if role.TenantID != actor.TenantID {
		return false, ErrAccessDenied
	}

	grant, err := e.stores.Grants.Find(ctx, roleID, featureID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
		// First toggle on this (role, feature) pair creates the grant row.
		grant = &FeatureGrant{
			ID:         uuid.NewString(),
			TenantID:   role.TenantID,
			RoleID:     roleID,
			FeatureID:  featureID,
			Permission: bit,
		}
		if err := e.stores.Grants.Insert(ctx, grant); err != nil {
			return false, err
		}
		e.auditToggle(actor, roleID, featureID, action, true)
		return true, nil
	}

	enabled := grant.Permission&bit == 0
	if enabled {
		err = e.stores.Grants.SetBits(ctx, roleID, featureID, bit)
	} else {
		err = e.stores.Grants.ClearBits(ctx, roleID, featureID, bit)
	}
	if err != nil {
		return false, err
	}

	e.auditToggle(actor, roleID, featureID, action, enabled)
	return enabled, nil
}

func (e *Engine) auditToggle(actor *Actor, roleID, featureID, action string, enabled bool) {
	state := "cleared"
	if enabled {
		state = "set"
	}
	e.metrics.Inc(internalmetrics.MetricGrantToggled)
	e.audit.Emit(AuditEvent{
		EventType: AuditGrantToggled,
		UserID:    actor.ID,
		TenantID:  actor.TenantID,
		Target:    featureID,
		Success:   true,
		Metadata: map[string]string{
			"role":   roleID,
			"action": action,
			"state":  state,
		},
	})
}
