// Package permission implements the action-bit algebra used by the
// authorization engine: a data-driven registry of named action bits, the
// grant/negation combination rule, and the three-state display matrix
// consumed by permission-admin and menu rendering.
package permission
