// Package slot implements the Blue-Green decision core: determining
// the active slot from live routing state and planning a safe rollback
// onto the inactive one.
package slot

import (
	"github.com/kubeslot/kubeslot/pkg/config"
)

// Slot is one of the two Blue-Green environment copies. A slot has no
// identity beyond its label; active and inactive are relational
// properties computed from routing state at query time.
type Slot string

const (
	Blue  Slot = "blue"
	Green Slot = "green"

	// Unknown means the routing backend matched neither slot's naming
	// convention. The pipeline never guesses past this.
	Unknown Slot = ""
)

// Other returns the logical complement of the slot.
func (s Slot) Other() Slot {
	switch s {
	case Blue:
		return Green
	case Green:
		return Blue
	}
	return Unknown
}

// Valid reports whether the slot is one of the two known labels.
func (s Slot) Valid() bool {
	return s == Blue || s == Green
}

func (s Slot) String() string {
	if s == Unknown {
		return "unknown"
	}
	return string(s)
}

// ParseSlot converts operator input into a Slot.
func ParseSlot(value string) Slot {
	switch value {
	case string(Blue):
		return Blue
	case string(Green):
		return Green
	}
	return Unknown
}

// FromBackendService maps a routing backend service name onto a slot
// using the {env}-{app}-{slot} convention. Anything else is Unknown.
func FromBackendService(envName string, env config.EnvironmentConfig, backendService string) Slot {
	switch backendService {
	case env.SlotNamespace(envName, string(Blue)):
		return Blue
	case env.SlotNamespace(envName, string(Green)):
		return Green
	}
	return Unknown
}
