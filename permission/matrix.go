package permission

// DisplayState is the per-action rendering state consumed by the
// permission-matrix and side-menu screens. It is deliberately three-valued,
// not boolean: "disabled" marks actions the tier can never hold, which the
// UI renders differently from an action that is merely not granted.
type DisplayState uint8

const (
	// StateDisabled marks an action negated for the tier (or the default
	// in a fresh, unsaved role context).
	StateDisabled DisplayState = 0
	// StateAssigned marks an action present in the role's grant.
	StateAssigned DisplayState = 1
	// StateUnassigned marks an action absent from the role's grant.
	StateUnassigned DisplayState = 2
)

// Matrix computes the display state for every action of one feature.
//
// The state starts as unassigned, or disabled when fresh is set (rendering
// a role that has not been saved yet). When a grant row exists, each bit
// flips to assigned/unassigned individually. Negated bits are forced to
// disabled last, so negation always wins over the grant.
func (s *Bitset) Matrix(granted Bits, hasGrant bool, negated Bits, fresh bool) map[string]DisplayState {
	out := make(map[string]DisplayState, len(s.names))

	def := StateUnassigned
	if fresh {
		def = StateDisabled
	}

	for _, name := range s.names {
		bit := s.nameToBit[name]

		state := def
		if hasGrant {
			if granted&bit != 0 {
				state = StateAssigned
			} else {
				state = StateUnassigned
			}
		}
		if negated&bit != 0 {
			state = StateDisabled
		}

		out[name] = state
	}

	return out
}
