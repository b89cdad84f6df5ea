// Package mongostore implements the tenauth repositories on MongoDB.
//
// Collection names follow the deployed schema (_organization, _role,
// _user, _feature, _featureonrole, _enum). Grant bit toggles use the
// server-side $bit operator, so concurrent toggles on one grant row
// combine instead of overwriting each other.
package mongostore

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sinarlabs/tenauth"
)

const (
	collTenants  = "_organization"
	collRoles    = "_role"
	collUsers    = "_user"
	collFeatures = "_feature"
	collGrants   = "_featureonrole"
	collEnums    = "_enum"
)

// New wires every repository onto one database handle.
func New(db *mongo.Database) tenauth.Stores {
	return tenauth.Stores{
		Tenants:  &TenantStore{coll: db.Collection(collTenants)},
		Roles:    &RoleStore{coll: db.Collection(collRoles)},
		Users:    &UserStore{coll: db.Collection(collUsers)},
		Features: &FeatureStore{coll: db.Collection(collFeatures)},
		Grants:   &GrantStore{coll: db.Collection(collGrants)},
		Actions:  &ActionStore{coll: db.Collection(collEnums)},
	}
}

// wrapErr maps driver errors onto the engine taxonomy: a missing
// document is ErrNotFound, everything else is an infrastructure failure.
func wrapErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return tenauth.ErrNotFound
	}
	return fmt.Errorf("%w: %v", tenauth.ErrStoreUnavailable, err)
}
