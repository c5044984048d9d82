package mate

import "fmt"

// Kind is a constraint type. The zero value is not a valid kind; "no
// relation" is reported by Classify's ok result, never by a kind.
type Kind int

const (
	Concentric Kind = iota + 1
	Perpendicular
	Parallel
	Coincident
	Screw
	Tangent
	HoleSpacing
)

var kindNames = map[Kind]string{
	Concentric:    "concentric",
	Perpendicular: "perpendicular",
	Parallel:      "parallel",
	Coincident:    "coincident",
	Screw:         "screw",
	Tangent:       "tangent",
	HoleSpacing:   "hole_spacing",
}

// Kinds lists every constraint kind in declaration order.
func Kinds() []Kind {
	return []Kind{Concentric, Perpendicular, Parallel, Coincident, Screw, Tangent, HoleSpacing}
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown constraint kind %q", s)
}

// Priority orders kinds when two proposals for one part pair tie on
// confidence. Higher wins.
func (k Kind) Priority() int {
	switch k {
	case Concentric:
		return 7
	case Perpendicular:
		return 6
	case Coincident:
		return 5
	case Parallel:
		return 4
	case Screw:
		return 3
	case Tangent:
		return 2
	case HoleSpacing:
		return 1
	default:
		return 0
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("mate: cannot encode kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
