package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sinarlabs/tenauth"
)

// UserStore persists account records.
type UserStore struct {
	coll *mongo.Collection
}

type userDoc struct {
	ID           string    `bson:"_id"`
	TenantID     string    `bson:"org_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email,omitempty"`
	PasswordHash string    `bson:"password"`
	Roles        []string  `bson:"roles"`
	Status       int       `bson:"status"`
	CreatedAt    time.Time `bson:"created_at"`
	ModifiedAt   time.Time `bson:"modified_at"`
}

func (d *userDoc) toDomain() *tenauth.User {
	return &tenauth.User{
		ID:           d.ID,
		TenantID:     d.TenantID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Roles:        d.Roles,
		Status:       tenauth.Status(d.Status),
		CreatedAt:    d.CreatedAt,
		ModifiedAt:   d.ModifiedAt,
	}
}

// Find returns the user by ID.
func (s *UserStore) Find(ctx context.Context, id string) (*tenauth.User, error) {
	var doc userDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.toDomain(), nil
}

// FindByIdentifier matches username or email.
func (s *UserStore) FindByIdentifier(ctx context.Context, identifier string) (*tenauth.User, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"username": identifier},
		bson.M{"email": identifier},
	}}
	var doc userDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.toDomain(), nil
}

// Insert writes a new account record.
func (s *UserStore) Insert(ctx context.Context, user *tenauth.User) error {
	doc := userDoc{
		ID:           user.ID,
		TenantID:     user.TenantID,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Roles:        user.Roles,
		Status:       int(user.Status),
		CreatedAt:    user.CreatedAt,
		ModifiedAt:   user.ModifiedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Delete removes an account record.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return wrapErr(err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored hash after a reset.
func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	update := bson.M{"$set": bson.M{"password": hash, "modified_at": time.Now().UTC()}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 0 {
		return tenauth.ErrNotFound
	}
	return nil
}
