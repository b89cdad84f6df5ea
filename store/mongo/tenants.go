package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sinarlabs/tenauth"
)

// TenantStore persists organization records.
type TenantStore struct {
	coll *mongo.Collection
}

type tenantDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Initial        string    `bson:"initial,omitempty"`
	Email          string    `bson:"email,omitempty"`
	Phone          string    `bson:"phone,omitempty"`
	Address        string    `bson:"address,omitempty"`
	Description    string    `bson:"description,omitempty"`
	Authority      int       `bson:"authority"`
	StorageQuotaMB int64     `bson:"storage_quota_mb"`
	Status         int       `bson:"status"`
	CreatedAt      time.Time `bson:"created_at"`
	ModifiedAt     time.Time `bson:"modified_at"`
}

func (d *tenantDoc) toDomain() (*tenauth.Tenant, error) {
	tier, err := tenauth.TierFromBit(d.Authority)
	if err != nil {
		return nil, err
	}
	return &tenauth.Tenant{
		ID:             d.ID,
		Name:           d.Name,
		Initial:        d.Initial,
		Email:          d.Email,
		Phone:          d.Phone,
		Address:        d.Address,
		Description:    d.Description,
		Tier:           tier,
		StorageQuotaMB: d.StorageQuotaMB,
		Status:         tenauth.Status(d.Status),
		CreatedAt:      d.CreatedAt,
		ModifiedAt:     d.ModifiedAt,
	}, nil
}

func tenantToDoc(t *tenauth.Tenant) tenantDoc {
	return tenantDoc{
		ID:             t.ID,
		Name:           t.Name,
		Initial:        t.Initial,
		Email:          t.Email,
		Phone:          t.Phone,
		Address:        t.Address,
		Description:    t.Description,
		Authority:      t.Tier.Bit(),
		StorageQuotaMB: t.StorageQuotaMB,
		Status:         int(t.Status),
		CreatedAt:      t.CreatedAt,
		ModifiedAt:     t.ModifiedAt,
	}
}

// Find returns the tenant by ID.
func (s *TenantStore) Find(ctx context.Context, id string) (*tenauth.Tenant, error) {
	var doc tenantDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.toDomain()
}

// FindByTier returns any tenant at the given tier, or ErrNotFound.
func (s *TenantStore) FindByTier(ctx context.Context, tier tenauth.Tier) (*tenauth.Tenant, error) {
	var doc tenantDoc
	if err := s.coll.FindOne(ctx, bson.M{"authority": tier.Bit()}).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.toDomain()
}

// Insert writes a new tenant record.
func (s *TenantStore) Insert(ctx context.Context, tenant *tenauth.Tenant) error {
	if _, err := s.coll.InsertOne(ctx, tenantToDoc(tenant)); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Delete removes a tenant record. Used only by provisioning
// compensation.
func (s *TenantStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return wrapErr(err)
	}
	return nil
}

// UpdateStatus flips the tenant lifecycle state.
func (s *TenantStore) UpdateStatus(ctx context.Context, id string, status tenauth.Status) error {
	update := bson.M{"$set": bson.M{"status": int(status), "modified_at": time.Now().UTC()}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return tenauth.ErrNotFound
	}
	return nil
}
