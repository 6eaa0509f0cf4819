// Package reconcile holds the types shared by the resource reconcilers, which
// make a remote HMC resource match a desired state in a single pass.
package reconcile

import "fmt"

// State is the desired state of a managed resource.
type State string

// Resource states
const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePresent, StateAbsent:
		return State(s), nil
	case "":
		return "", fmt.Errorf("state is required (present or absent)")
	default:
		return "", fmt.Errorf("invalid state %q: must be present or absent", s)
	}
}

// Result is the outcome of one reconciliation.
type Result struct {
	// Changed reports whether the resource was (or in check mode would be)
	// created, updated or deleted.
	Changed bool
	// Properties is the final property snapshot of the resource. It is empty
	// when the resource does not exist afterwards, and for a create in check
	// mode.
	Properties map[string]any
}
