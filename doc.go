// Package tenauth is the authentication and authorization core for a
// multi-tenant deployment: bitmask permissions with tier-level negation,
// a JWT session service backed by a Redis deny-list, and the
// provisioning flow that bootstraps new tenants.
//
// Tenants form a strict three-tier hierarchy (owner, partner, client).
// Features are gated per tier by an authority mask and may negate
// individual action bits per tier; a negation always beats a role grant.
// Roles accumulate grants as 64-bit action masks, evaluated as
//
//	effective = (OR of role grants) AND NOT negated[tier]
//
// The Engine is the single entry point. Construct it with New, injecting
// the typed repositories, a Redis client, and a Config; there is no
// package-level state.
package tenauth
