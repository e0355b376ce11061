package instrument

import (
	"errors"
	"fmt"
)

// Kind identifies an instrument connection slot.
type Kind string

const (
	PowerSupply     Kind = "powerSupply"
	SignalGenerator Kind = "signalGenerator"
)

// Kinds returns every supported kind in display order.
func Kinds() []Kind {
	return []Kind{PowerSupply, SignalGenerator}
}

// ErrUnknownKind is returned for an unrecognized kind name.
var ErrUnknownKind = errors.New("unknown instrument kind")

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
