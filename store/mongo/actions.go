package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// roleActionEnum is the well-known _enum document naming the action bit
// layout.
const roleActionEnum = "ROLEACTION"

// ActionStore loads the deployment's action bit layout.
type ActionStore struct {
	coll *mongo.Collection
}

type enumDoc struct {
	Name  string           `bson:"name"`
	Value map[string]int64 `bson:"value"`
}

// RoleActions returns the configured action name to bit map, or
// ErrNotFound when the deployment has no layout record yet.
func (s *ActionStore) RoleActions(ctx context.Context) (map[string]uint64, error) {
	var doc enumDoc
	if err := s.coll.FindOne(ctx, bson.M{"name": roleActionEnum}).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}

	out := make(map[string]uint64, len(doc.Value))
	for name, bit := range doc.Value {
		out[name] = uint64(bit)
	}
	return out, nil
}
