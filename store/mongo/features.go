package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sinarlabs/tenauth"
	"github.com/sinarlabs/tenauth/permission"
)

// FeatureStore reads the feature catalog. Features are deployment seed
// data; this store has no write path.
type FeatureStore struct {
	coll *mongo.Collection
}

type featureDoc struct {
	ID            string           `bson:"_id"`
	Name          string           `bson:"name"`
	AuthorityMask int              `bson:"authority"`
	Negated       map[string]int64 `bson:"negated_permission,omitempty"`
}

func (d *featureDoc) toDomain() tenauth.Feature {
	f := tenauth.Feature{
		ID:            d.ID,
		Name:          d.Name,
		AuthorityMask: d.AuthorityMask,
	}
	if len(d.Negated) > 0 {
		f.Negated = make(map[string]permission.Bits, len(d.Negated))
		for tier, bits := range d.Negated {
			f.Negated[tier] = permission.Bits(bits)
		}
	}
	return f
}

// Find returns the feature by ID.
func (s *FeatureStore) Find(ctx context.Context, id string) (*tenauth.Feature, error) {
	var doc featureDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	f := doc.toDomain()
	return &f, nil
}

// VisibleTo lists every feature whose authority mask includes the tier.
// Matching uses $bitsAnySet so the index on authority still applies to
// the covered scan.
func (s *FeatureStore) VisibleTo(ctx context.Context, tier tenauth.Tier) ([]tenauth.Feature, error) {
	filter := bson.M{"authority": bson.M{"$bitsAnySet": bson.A{bitPosition(tier.Bit())}}}
	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var features []tenauth.Feature
	for cursor.Next(ctx) {
		var doc featureDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		features = append(features, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return features, nil
}

// bitPosition converts a power-of-two tier bit to its position for
// $bitsAnySet.
func bitPosition(bit int) int {
	pos := 0
	for bit > 1 {
		bit >>= 1
		pos++
	}
	return pos
}
