// Package props implements the property reconciliation used by the resource
// modules: a static table of property flags and a processor that turns desired
// input properties into the minimal create and update property sets.
package props

import (
	"fmt"
	"sort"
	"strings"
)

// EqualFunc compares a desired (already cast) value with the current remote value.
type EqualFunc func(desired, current any) bool

// CastFunc normalizes an input value before comparison and output.
type CastFunc func(value any) (any, error)

// Descriptor holds the control flags of one property.
type Descriptor struct {
	// Allowed means the property may appear in the desired properties.
	Allowed bool
	// Create means the property can be passed to the create operation.
	Create bool
	// Update means the property can be passed to the update operation.
	Update bool
	// UpdateWhileActive means the update does not require the partition to be
	// stopped. Ignored unless Update is set.
	UpdateWhileActive bool
	// Equal overrides structural equality.
	Equal EqualFunc
	// Cast normalizes input values.
	Cast CastFunc
}

// ReadOnly returns the descriptor of a property that can never be set.
func ReadOnly() Descriptor {
	return Descriptor{}
}

// Artificial declares an input property that does not exist in the remote
// data model and is resolved into Target by a lookup.
type Artificial struct {
	// Name is the input (underscore) name, e.g. "adapter_name".
	Name string
	// Target is the remote (hyphenated) property the resolved value is stored in.
	Target string
}

// Table is the property table of one resource type.
type Table struct {
	// Resource is the plural resource name used in messages.
	Resource   string
	Properties map[string]Descriptor
	Artificial []Artificial
}

// Validate checks the table invariants. It is meant to be called from tests
// and package initialization, a failure is a programming error.
func (t *Table) Validate() error {
	names := make([]string, 0, len(t.Properties))
	for name := range t.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := t.Properties[name]
		if !d.Create && !d.Update && d.Allowed {
			return fmt.Errorf("%s: property %q is read-only but allowed", t.Resource, name)
		}
	}

	for _, a := range t.Artificial {
		d, ok := t.Properties[a.Name]
		if !ok || !d.Allowed {
			return fmt.Errorf("%s: artificial property %q must be an allowed table entry", t.Resource, a.Name)
		}
		target, ok := t.Properties[InputName(a.Target)]
		if !ok {
			return fmt.Errorf("%s: target %q of artificial property %q is not in the table", t.Resource, a.Target, a.Name)
		}
		if target.Allowed {
			return fmt.Errorf("%s: target %q of artificial property %q must not be allowed directly", t.Resource, a.Target, a.Name)
		}
	}
	return nil
}

func (t *Table) artificial(name string) (Artificial, bool) {
	for _, a := range t.Artificial {
		if a.Name == name {
			return a, true
		}
	}
	return Artificial{}, false
}

// RemoteName translates an input property name into the remote name.
func RemoteName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// InputName translates a remote property name into the input name.
func InputName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
