package permission

import (
	"errors"
	"fmt"
	"sort"
)

// Bits is an action bitmask. Every action occupies a distinct power-of-two
// bit; masks combine with bitwise OR.
type Bits uint64

// Has reports whether every bit in required is present in b.
func (b Bits) Has(required Bits) bool {
	return b&required == required
}

// Effective applies the negation rule: a tier-level negation always wins
// over a role grant, regardless of the order grants were written.
func Effective(granted, negated Bits) Bits {
	return granted &^ negated
}

// Bitset maps action names to their bit values. The layout is data-driven:
// it is loaded from a well-known configuration record at startup rather
// than hard-coded per caller, so new actions can be introduced without a
// code change. A Bitset is immutable after construction.
type Bitset struct {
	nameToBit map[string]Bits
	names     []string // sorted by bit value
	all       Bits
}

// DefaultActions is the seed layout used when no configuration record
// exists yet (fresh deployments, tests).
var DefaultActions = map[string]uint64{
	"view":     1,
	"add":      2,
	"edit":     4,
	"delete":   8,
	"export":   16,
	"import":   32,
	"approval": 64,
	"setting":  128,
}

// NewBitset builds a Bitset from a name→bit map. Every value must be a
// distinct single bit.
func NewBitset(values map[string]uint64) (*Bitset, error) {
	if len(values) == 0 {
		return nil, errors.New("permission: empty action set")
	}

	s := &Bitset{nameToBit: make(map[string]Bits, len(values))}
	seen := make(map[uint64]string, len(values))
	for name, v := range values {
		if name == "" {
			return nil, errors.New("permission: action name cannot be empty")
		}
		if v == 0 || v&(v-1) != 0 {
			return nil, fmt.Errorf("permission: action %q value %d is not a single bit", name, v)
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("permission: actions %q and %q share bit %d", prev, name, v)
		}
		seen[v] = name
		s.nameToBit[name] = Bits(v)
		s.names = append(s.names, name)
		s.all |= Bits(v)
	}

	sort.Slice(s.names, func(i, j int) bool {
		return s.nameToBit[s.names[i]] < s.nameToBit[s.names[j]]
	})

	return s, nil
}

// MustDefault returns the Bitset for DefaultActions.
func MustDefault() *Bitset {
	s, err := NewBitset(DefaultActions)
	if err != nil {
		panic(err)
	}
	return s
}

// AllBits returns the union of every defined action bit. Provisioning uses
// this to compute the full-minus-negated default grant for a new tenant.
func (s *Bitset) AllBits() Bits {
	return s.all
}

// Bit returns the bit for the named action, or false if unknown.
func (s *Bitset) Bit(name string) (Bits, bool) {
	b, ok := s.nameToBit[name]
	return b, ok
}

// Names returns the action names ordered by bit value.
func (s *Bitset) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Values returns the raw name→bit map, as embedded in access-token claims.
func (s *Bitset) Values() map[string]uint64 {
	out := make(map[string]uint64, len(s.nameToBit))
	for name, b := range s.nameToBit {
		out[name] = uint64(b)
	}
	return out
}
