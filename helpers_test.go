package tenauth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sinarlabs/tenauth/password"
	"github.com/sinarlabs/tenauth/permission"
)

// memDB backs the in-memory repository fakes. Setting failing makes
// every call return a store-unavailable error, for the tests that assert
// infrastructure failures are never read as decisions.
type memDB struct {
	mu       sync.Mutex
	tenants  map[string]*Tenant
	roles    map[string]*Role
	users    map[string]*User
	features map[string]*Feature
	grants   map[string]*FeatureGrant // keyed role|feature
	actions  map[string]uint64

	failing bool
}

func newMemDB() *memDB {
	return &memDB{
		tenants:  make(map[string]*Tenant),
		roles:    make(map[string]*Role),
		users:    make(map[string]*User),
		features: make(map[string]*Feature),
		grants:   make(map[string]*FeatureGrant),
	}
}

func (db *memDB) stores() Stores {
	return Stores{
		Tenants:  &memTenants{db},
		Roles:    &memRoles{db},
		Users:    &memUsers{db},
		Features: &memFeatures{db},
		Grants:   &memGrants{db},
		Actions:  &memActions{db},
	}
}

func (db *memDB) fail() error {
	if db.failing {
		return fmt.Errorf("%w: injected", ErrStoreUnavailable)
	}
	return nil
}

func grantKey(roleID, featureID string) string { return roleID + "|" + featureID }

type memTenants struct{ db *memDB }

func (s *memTenants) Find(_ context.Context, id string) (*Tenant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	t, ok := s.db.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTenants) FindByTier(_ context.Context, tier Tier) (*Tenant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	for _, t := range s.db.tenants {
		if t.Tier == tier {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memTenants) Insert(_ context.Context, tenant *Tenant) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	cp := *tenant
	s.db.tenants[tenant.ID] = &cp
	return nil
}

func (s *memTenants) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	delete(s.db.tenants, id)
	return nil
}

func (s *memTenants) UpdateStatus(_ context.Context, id string, status Status) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	t, ok := s.db.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

type memRoles struct{ db *memDB }

func (s *memRoles) Find(_ context.Context, id string) (*Role, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	r, ok := s.db.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memRoles) Insert(_ context.Context, role *Role) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	cp := *role
	s.db.roles[role.ID] = &cp
	return nil
}

func (s *memRoles) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	delete(s.db.roles, id)
	return nil
}

func (s *memRoles) UpdateStatusByTenant(_ context.Context, tenantID string, status Status) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	for _, r := range s.db.roles {
		if r.TenantID == tenantID {
			r.Status = status
		}
	}
	return nil
}

type memUsers struct{ db *memDB }

func (s *memUsers) Find(_ context.Context, id string) (*User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	u, ok := s.db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) FindByIdentifier(_ context.Context, identifier string) (*User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	for _, u := range s.db.users {
		if u.Username == identifier || (u.Email != "" && u.Email == identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUsers) Insert(_ context.Context, user *User) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	cp := *user
	s.db.users[user.ID] = &cp
	return nil
}

func (s *memUsers) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	delete(s.db.users, id)
	return nil
}

func (s *memUsers) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	u, ok := s.db.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type memFeatures struct{ db *memDB }

func (s *memFeatures) Find(_ context.Context, id string) (*Feature, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	f, ok := s.db.features[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *memFeatures) VisibleTo(_ context.Context, tier Tier) ([]Feature, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	var out []Feature
	for _, f := range s.db.features {
		if f.VisibleTo(tier) {
			out = append(out, *f)
		}
	}
	return out, nil
}

type memGrants struct{ db *memDB }

func (s *memGrants) Find(_ context.Context, roleID, featureID string) (*FeatureGrant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	g, ok := s.db.grants[grantKey(roleID, featureID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *memGrants) ForRolesAndFeature(_ context.Context, roleIDs []string, featureID string) ([]FeatureGrant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	var out []FeatureGrant
	for _, roleID := range roleIDs {
		if g, ok := s.db.grants[grantKey(roleID, featureID)]; ok {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *memGrants) ForRoles(_ context.Context, roleIDs []string) ([]FeatureGrant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	var out []FeatureGrant
	for _, g := range s.db.grants {
		for _, roleID := range roleIDs {
			if g.RoleID == roleID {
				out = append(out, *g)
				break
			}
		}
	}
	return out, nil
}

func (s *memGrants) Insert(_ context.Context, grant *FeatureGrant) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	cp := *grant
	s.db.grants[grantKey(grant.RoleID, grant.FeatureID)] = &cp
	return nil
}

func (s *memGrants) InsertMany(ctx context.Context, grants []FeatureGrant) error {
	for i := range grants {
		if err := s.Insert(ctx, &grants[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memGrants) SetBits(_ context.Context, roleID, featureID string, bits permission.Bits) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	g, ok := s.db.grants[grantKey(roleID, featureID)]
	if !ok {
		return ErrNotFound
	}
	g.Permission |= bits
	return nil
}

func (s *memGrants) ClearBits(_ context.Context, roleID, featureID string, bits permission.Bits) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	g, ok := s.db.grants[grantKey(roleID, featureID)]
	if !ok {
		return ErrNotFound
	}
	g.Permission &^= bits
	return nil
}

func (s *memGrants) DeleteByRole(_ context.Context, roleID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return err
	}
	for key, g := range s.db.grants {
		if g.RoleID == roleID {
			delete(s.db.grants, key)
		}
	}
	return nil
}

type memActions struct{ db *memDB }

func (s *memActions) RoleActions(_ context.Context) (map[string]uint64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail(); err != nil {
		return nil, err
	}
	if s.db.actions == nil {
		return nil, ErrNotFound
	}
	return s.db.actions, nil
}

// --- fixture ---

type fixture struct {
	engine *Engine
	db     *memDB
	mr     *miniredis.Miniredis
	hasher *password.Hasher
	sink   *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig([]byte("test-secret-test-secret-test-secret"))
	cfg.Password.Cost = password.MinCost
	return cfg
}

func redisClient(t *testing.T, addr string) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisClient(t, mr.Addr())

	db := newMemDB()
	sink := NewChannelSink(64)
	opts = append([]Option{WithAuditSink(sink)}, opts...)

	engine, err := New(context.Background(), testConfig(), db.stores(), client, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(engine.Close)

	hasher, err := password.NewHasher(password.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	return &fixture{engine: engine, db: db, mr: mr, hasher: hasher, sink: sink}
}

func (f *fixture) seedTenant(t *testing.T, tier Tier) *Tenant {
	t.Helper()
	tenant := &Tenant{
		ID:     uuid.NewString(),
		Name:   "tenant-" + tier.String(),
		Tier:   tier,
		Status: StatusActive,
	}
	f.db.mu.Lock()
	f.db.tenants[tenant.ID] = tenant
	f.db.mu.Unlock()
	return tenant
}

func (f *fixture) seedRole(t *testing.T, tenantID, name string) *Role {
	t.Helper()
	role := &Role{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Name:     name,
		Status:   StatusActive,
	}
	f.db.mu.Lock()
	f.db.roles[role.ID] = role
	f.db.mu.Unlock()
	return role
}

func (f *fixture) seedUser(t *testing.T, tenantID, username, plaintext string, roleIDs ...string) *User {
	t.Helper()
	hash, err := f.hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	user := &User{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Roles:        roleIDs,
		Status:       StatusActive,
	}
	f.db.mu.Lock()
	f.db.users[user.ID] = user
	f.db.mu.Unlock()
	return user
}

func (f *fixture) seedFeature(t *testing.T, name string, authorityMask int, negated map[string]permission.Bits) *Feature {
	t.Helper()
	feature := &Feature{
		ID:            uuid.NewString(),
		Name:          name,
		AuthorityMask: authorityMask,
		Negated:       negated,
	}
	f.db.mu.Lock()
	f.db.features[feature.ID] = feature
	f.db.mu.Unlock()
	return feature
}

func (f *fixture) seedGrant(t *testing.T, tenantID, roleID, featureID string, bits permission.Bits) *FeatureGrant {
	t.Helper()
	grant := &FeatureGrant{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		RoleID:     roleID,
		FeatureID:  featureID,
		Permission: bits,
	}
	f.db.mu.Lock()
	f.db.grants[grantKey(roleID, featureID)] = grant
	f.db.mu.Unlock()
	return grant
}

// waitAudit drains the sink until an event of the given type arrives.
func (f *fixture) waitAudit(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-f.sink.Events():
			if event.EventType == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("no %q audit event", eventType)
		}
	}
}
