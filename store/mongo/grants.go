package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sinarlabs/tenauth"
	"github.com/sinarlabs/tenauth/permission"
)

// GrantStore persists role-feature grant rows. SetBits and ClearBits use
// the server-side $bit operator: the read-modify-write happens inside
// the database, so concurrent toggles of different bits on one row
// cannot lose either write.
type GrantStore struct {
	coll *mongo.Collection
}

type grantDoc struct {
	ID         string `bson:"_id"`
	TenantID   string `bson:"org_id"`
	RoleID     string `bson:"role_id"`
	FeatureID  string `bson:"feature_id"`
	Permission int64  `bson:"permission"`
}

func (d *grantDoc) toDomain() tenauth.FeatureGrant {
	return tenauth.FeatureGrant{
		ID:         d.ID,
		TenantID:   d.TenantID,
		RoleID:     d.RoleID,
		FeatureID:  d.FeatureID,
		Permission: permission.Bits(d.Permission),
	}
}

func grantToDoc(g *tenauth.FeatureGrant) grantDoc {
	return grantDoc{
		ID:         g.ID,
		TenantID:   g.TenantID,
		RoleID:     g.RoleID,
		FeatureID:  g.FeatureID,
		Permission: int64(g.Permission),
	}
}

// Find returns the grant row for one (role, feature) pair.
func (s *GrantStore) Find(ctx context.Context, roleID, featureID string) (*tenauth.FeatureGrant, error) {
	filter := bson.M{"role_id": roleID, "feature_id": featureID}
	var doc grantDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	g := doc.toDomain()
	return &g, nil
}

// ForRolesAndFeature returns grant rows for any of the roles on one
// feature.
func (s *GrantStore) ForRolesAndFeature(ctx context.Context, roleIDs []string, featureID string) ([]tenauth.FeatureGrant, error) {
	filter := bson.M{"role_id": bson.M{"$in": roleIDs}, "feature_id": featureID}
	return s.find(ctx, filter)
}

// ForRoles returns all grant rows for the roles.
func (s *GrantStore) ForRoles(ctx context.Context, roleIDs []string) ([]tenauth.FeatureGrant, error) {
	return s.find(ctx, bson.M{"role_id": bson.M{"$in": roleIDs}})
}

func (s *GrantStore) find(ctx context.Context, filter bson.M) ([]tenauth.FeatureGrant, error) {
	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var grants []tenauth.FeatureGrant
	for cursor.Next(ctx) {
		var doc grantDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		grants = append(grants, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return grants, nil
}

// Insert writes a new grant row.
func (s *GrantStore) Insert(ctx context.Context, grant *tenauth.FeatureGrant) error {
	if _, err := s.coll.InsertOne(ctx, grantToDoc(grant)); err != nil {
		return wrapErr(err)
	}
	return nil
}

// InsertMany batch-writes the seeded grants of a new tenant.
func (s *GrantStore) InsertMany(ctx context.Context, grants []tenauth.FeatureGrant) error {
	if len(grants) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(grants))
	for i := range grants {
		docs = append(docs, grantToDoc(&grants[i]))
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return wrapErr(err)
	}
	return nil
}

// SetBits ORs bits into the stored permission mask atomically.
func (s *GrantStore) SetBits(ctx context.Context, roleID, featureID string, bits permission.Bits) error {
	return s.bitUpdate(ctx, roleID, featureID, bson.M{"or": int64(bits)})
}

// ClearBits ANDs bits out of the stored permission mask atomically.
func (s *GrantStore) ClearBits(ctx context.Context, roleID, featureID string, bits permission.Bits) error {
	return s.bitUpdate(ctx, roleID, featureID, bson.M{"and": int64(^bits)})
}

func (s *GrantStore) bitUpdate(ctx context.Context, roleID, featureID string, op bson.M) error {
	filter := bson.M{"role_id": roleID, "feature_id": featureID}
	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$bit": bson.M{"permission": op}})
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return tenauth.ErrNotFound
	}
	return nil
}

// DeleteByRole removes every grant row of a role. Used by provisioning
// compensation and role deletion.
func (s *GrantStore) DeleteByRole(ctx context.Context, roleID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"role_id": roleID}); err != nil {
		return wrapErr(err)
	}
	return nil
}

var _ tenauth.GrantStore = (*GrantStore)(nil)
