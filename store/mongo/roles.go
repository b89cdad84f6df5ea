package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sinarlabs/tenauth"
)

// RoleStore persists role records.
type RoleStore struct {
	coll *mongo.Collection
}

type roleDoc struct {
	ID         string    `bson:"_id"`
	TenantID   string    `bson:"org_id"`
	Name       string    `bson:"name"`
	Color      string    `bson:"color,omitempty"`
	Status     int       `bson:"status"`
	CreatedAt  time.Time `bson:"created_at"`
	ModifiedAt time.Time `bson:"modified_at"`
}

func (d *roleDoc) toDomain() *tenauth.Role {
	return &tenauth.Role{
		ID:         d.ID,
		TenantID:   d.TenantID,
		Name:       d.Name,
		Color:      d.Color,
		Status:     tenauth.Status(d.Status),
		CreatedAt:  d.CreatedAt,
		ModifiedAt: d.ModifiedAt,
	}
}

// Find returns the role by ID.
func (s *RoleStore) Find(ctx context.Context, id string) (*tenauth.Role, error) {
	var doc roleDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.toDomain(), nil
}

// Insert writes a new role record.
func (s *RoleStore) Insert(ctx context.Context, role *tenauth.Role) error {
	doc := roleDoc{
		ID:         role.ID,
		TenantID:   role.TenantID,
		Name:       role.Name,
		Color:      role.Color,
		Status:     int(role.Status),
		CreatedAt:  role.CreatedAt,
		ModifiedAt: role.ModifiedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Delete removes a role record.
func (s *RoleStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return wrapErr(err)
	}
	return nil
}

// UpdateStatusByTenant cascades a tenant status change to every role in
// the tenant.
func (s *RoleStore) UpdateStatusByTenant(ctx context.Context, tenantID string, status tenauth.Status) error {
	update := bson.M{"$set": bson.M{"status": int(status), "modified_at": time.Now().UTC()}}
	if _, err := s.coll.UpdateMany(ctx, bson.M{"org_id": tenantID}, update); err != nil {
		return wrapErr(err)
	}
	return nil
}
