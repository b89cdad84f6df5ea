package tenauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	internalmetrics "github.com/sinarlabs/tenauth/internal/metrics"
	"github.com/sinarlabs/tenauth/permission"
)

// TenantInput describes the organization record to provision.
type TenantInput struct {
	Name        string
	Initial     string
	Email       string
	Phone       string
	Address     string
	Description string
}

// AdminInput describes the first administrator account of a new tenant.
type AdminInput struct {
	Username string
	Email    string
	Password string
}

// ProvisionResult reports what a successful provisioning created.
type ProvisionResult struct {
	Tenant *Tenant
	Role   *Role
	Admin  *User
	Grants int
}

// InitOwner provisions the single root tenant of a deployment. It fails
// with ErrOwnerExists if an owner tenant already exists; no caller actor
// is required because it runs at bootstrap, before any session exists.
func (e *Engine) InitOwner(ctx context.Context, tenant TenantInput, admin AdminInput) (*ProvisionResult, error) {
	existing, err := e.stores.Tenants.FindByTier(ctx, TierOwner)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		e.metrics.Inc(internalmetrics.MetricProvisionFailure)
		return nil, ErrOwnerExists
	}
	return e.provision(ctx, TierOwner, tenant, admin)
}

// InitPartner provisions a partner tenant. Only an owner actor may call
// it.
func (e *Engine) InitPartner(ctx context.Context, caller *Actor, tenant TenantInput, admin AdminInput) (*ProvisionResult, error) {
	if caller == nil || !caller.Tier.Provisions(TierPartner) {
		return nil, ErrAccessDenied
	}
	return e.provision(ctx, TierPartner, tenant, admin)
}

// InitClient provisions a client tenant. Only a partner actor may call
// it.
func (e *Engine) InitClient(ctx context.Context, caller *Actor, tenant TenantInput, admin AdminInput) (*ProvisionResult, error) {
	if caller == nil || !caller.Tier.Provisions(TierClient) {
		return nil, ErrAccessDenied
	}
	return e.provision(ctx, TierClient, tenant, admin)
}

// provision runs the four-step creation chain: tenant, Admin role, grant
// seeding, admin user. The document store has no cross-collection
// transaction, so each later step compensates on failure by deleting
// what the earlier steps wrote; a failed provisioning leaves no partial
// tenant behind.
func (e *Engine) provision(ctx context.Context, tier Tier, in TenantInput, adminIn AdminInput) (*ProvisionResult, error) {
	if in.Name == "" || adminIn.Username == "" {
		e.metrics.Inc(internalmetrics.MetricProvisionFailure)
		return nil, errors.New("tenant name and admin username are required")
	}

	if err := e.checkDuplicateAdmin(ctx, adminIn); err != nil {
		e.metrics.Inc(internalmetrics.MetricProvisionFailure)
		return nil, err
	}

	// Hash before any write so a weak password cannot strand a half-built
	// tenant.
	hash, err := e.hasher.Hash(adminIn.Password)
	if err != nil {
		e.metrics.Inc(internalmetrics.MetricProvisionFailure)
		return nil, err
	}

	now := e.now().UTC()
	tenant := &Tenant{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Initial:        in.Initial,
		Email:          in.Email,
		Phone:          in.Phone,
		Address:        in.Address,
		Description:    in.Description,
		Tier:           tier,
		StorageQuotaMB: e.cfg.Provision.StorageQuotaMB,
		Status:         StatusActive,
		CreatedAt:      now,
		ModifiedAt:     now,
	}
	if err := e.stores.Tenants.Insert(ctx, tenant); err != nil {
		return nil, e.failProvision(err, tier, in.Name)
	}

	role := &Role{
		ID:         uuid.NewString(),
		TenantID:   tenant.ID,
		Name:       e.cfg.Provision.AdminRoleName,
		Color:      e.cfg.Provision.AdminRoleColor,
		Status:     StatusActive,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := e.stores.Roles.Insert(ctx, role); err != nil {
		e.compensate(ctx, tenant, nil, "")
		return nil, e.failProvision(err, tier, in.Name)
	}

	grants, err := e.seedGrants(ctx, tenant, role)
	if err != nil {
		e.compensate(ctx, tenant, role, "")
		return nil, e.failProvision(err, tier, in.Name)
	}

	admin := &User{
		ID:           uuid.NewString(),
		TenantID:     tenant.ID,
		Username:     adminIn.Username,
		Email:        adminIn.Email,
		PasswordHash: hash,
		Roles:        []string{role.ID},
		Status:       StatusActive,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	if err := e.stores.Users.Insert(ctx, admin); err != nil {
		e.compensate(ctx, tenant, role, role.ID)
		return nil, e.failProvision(err, tier, in.Name)
	}

	e.metrics.Inc(internalmetrics.MetricProvisionSuccess)
	e.audit.Emit(AuditEvent{
		EventType: AuditProvision,
		UserID:    admin.ID,
		TenantID:  tenant.ID,
		Target:    tenant.Name,
		Success:   true,
		Metadata: map[string]string{
			"tier":   tier.String(),
			"grants": fmt.Sprintf("%d", len(grants)),
		},
	})

	return &ProvisionResult{
		Tenant: tenant,
		Role:   role,
		Admin:  admin,
		Grants: len(grants),
	}, nil
}

func (e *Engine) checkDuplicateAdmin(ctx context.Context, in AdminInput) error {
	for _, identifier := range []string{in.Username, in.Email} {
		if identifier == "" {
			continue
		}
		_, err := e.stores.Users.FindByIdentifier(ctx, identifier)
		if err == nil {
			return ErrDuplicateUser
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// seedGrants writes the Admin role's default grant for every feature
// visible to the tenant's tier: all defined action bits minus the tier's
// negation mask. A feature fully negated for the tier still gets a zero
// grant row so the matrix screen shows it as saved rather than fresh.
func (e *Engine) seedGrants(ctx context.Context, tenant *Tenant, role *Role) ([]FeatureGrant, error) {
	features, err := e.stores.Features.VisibleTo(ctx, tenant.Tier)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, nil
	}

	grants := make([]FeatureGrant, 0, len(features))
	for i := range features {
		f := &features[i]
		grants = append(grants, FeatureGrant{
			ID:         uuid.NewString(),
			TenantID:   tenant.ID,
			RoleID:     role.ID,
			FeatureID:  f.ID,
			Permission: permission.Effective(e.bitset.AllBits(), f.NegatedFor(tenant.Tier)),
		})
	}
	if err := e.stores.Grants.InsertMany(ctx, grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// compensate unwinds a partial provisioning in reverse creation order.
// Cleanup failures are audited but do not mask the original error; the
// leftovers are flagged for operator attention instead.
func (e *Engine) compensate(ctx context.Context, tenant *Tenant, role *Role, grantsRoleID string) {
	if grantsRoleID != "" {
		if err := e.stores.Grants.DeleteByRole(ctx, grantsRoleID); err != nil {
			e.auditCompensateFailure(tenant.ID, "grants", err)
		}
	}
	if role != nil {
		if err := e.stores.Roles.Delete(ctx, role.ID); err != nil {
			e.auditCompensateFailure(tenant.ID, "role", err)
		}
	}
	if err := e.stores.Tenants.Delete(ctx, tenant.ID); err != nil {
		e.auditCompensateFailure(tenant.ID, "tenant", err)
	}

	e.audit.Emit(AuditEvent{
		EventType: AuditProvisionUndo,
		TenantID:  tenant.ID,
		Success:   true,
	})
}

func (e *Engine) auditCompensateFailure(tenantID, step string, err error) {
	e.audit.Emit(AuditEvent{
		EventType: AuditProvisionUndo,
		TenantID:  tenantID,
		Target:    step,
		Success:   false,
		Error:     err.Error(),
	})
}

func (e *Engine) failProvision(err error, tier Tier, name string) error {
	e.metrics.Inc(internalmetrics.MetricProvisionFailure)
	e.audit.Emit(AuditEvent{
		EventType: AuditProvision,
		Target:    name,
		Success:   false,
		Error:     err.Error(),
		Metadata:  map[string]string{"tier": tier.String()},
	})
	return err
}

// SuspendTenant freezes a tenant and cascades the status to its roles so
// permission checks and logins stop at once; ResumeTenant reverses it.
// The tenant record itself is status-flagged, never deleted.
func (e *Engine) SuspendTenant(ctx context.Context, tenantID string) error {
	return e.setTenantStatus(ctx, tenantID, StatusSuspended)
}

// ResumeTenant reactivates a suspended tenant and its roles.
func (e *Engine) ResumeTenant(ctx context.Context, tenantID string) error {
	return e.setTenantStatus(ctx, tenantID, StatusActive)
}

func (e *Engine) setTenantStatus(ctx context.Context, tenantID string, status Status) error {
	tenant, err := e.stores.Tenants.Find(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.Tier == TierOwner && status != StatusActive {
		return ErrAccessDenied
	}
	if err := e.stores.Tenants.UpdateStatus(ctx, tenantID, status); err != nil {
		return err
	}
	return e.stores.Roles.UpdateStatusByTenant(ctx, tenantID, status)
}
