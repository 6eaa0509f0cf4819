package props

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNotResolved must be wrapped by a Resolver when the referenced object does
// not exist. Any other resolver error is propagated as is.
var ErrNotResolved = errors.New("reference not resolved")

// Resolver resolves the value of an artificial property into the value of its
// target property, e.g. an adapter name into the adapter URI.
type Resolver func(ctx context.Context, value any) (any, error)

// Input is the input of Process.
type Input struct {
	// Name is the resource name. It is always part of the create properties
	// and never of the update properties, since resources are looked up by it.
	Name string
	// Desired are the input properties, keyed by underscore names.
	Desired map[string]any
	// Current is the full remote property snapshot, nil if the resource does
	// not exist yet.
	Current map[string]any
	// Resolvers maps artificial property names to their resolvers.
	Resolvers map[string]Resolver
}

// Result is the outcome of Process. Keys use remote (hyphenated) names.
type Result struct {
	Create map[string]any
	Update map[string]any
	// Stop reports that some update property requires the partition to be
	// stopped during the update.
	Stop bool
}

// UpdateOnly returns the update properties that are not already covered by
// the create properties.
func (r *Result) UpdateOnly() map[string]any {
	out := make(map[string]any)
	for name, value := range r.Update {
		if _, ok := r.Create[name]; !ok {
			out[name] = value
		}
	}
	return out
}

// Process computes the create and update property sets for the desired
// properties. When in.Current is set, the sets only contain what differs from
// it. Process has no side effects beyond calling the resolvers.
func Process(ctx context.Context, table *Table, in Input) (*Result, error) {
	res := &Result{
		Create: map[string]any{"name": in.Name},
		Update: map[string]any{},
	}
	exists := in.Current != nil

	names := make([]string, 0, len(in.Desired))
	for name := range in.Desired {
		names = append(names, name)
	}
	sort.Strings(names)

	var pending []Artificial
	for _, name := range names {
		d, ok := table.Properties[name]
		if !ok {
			return nil, &UnknownPropertyError{Resource: table.Resource, Property: name}
		}
		if !d.Allowed {
			return nil, &PropertyNotAllowedError{Property: name}
		}
		if a, ok := table.artificial(name); ok {
			// Artificial properties are processed after all normal ones.
			pending = append(pending, a)
			continue
		}
		if err := processNormal(table, name, d, in, exists, res); err != nil {
			return nil, err
		}
	}

	for _, a := range pending {
		if err := processArtificial(ctx, table, a, in, exists, res); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func processNormal(table *Table, name string, d Descriptor, in Input, exists bool, res *Result) error {
	remote := RemoteName(name)
	value, err := cast(name, d, in.Desired[name])
	if err != nil {
		return err
	}

	if !exists {
		// Prefer setting the property during creation.
		if d.Create {
			res.Create[remote] = value
		} else {
			res.Update[remote] = value
			if !d.UpdateWhileActive {
				res.Stop = true
			}
		}
		return nil
	}

	current := in.Current[remote]
	eq := d.Equal
	if eq == nil {
		eq = Equal
	}
	if eq(value, current) {
		return nil
	}
	if !d.Update {
		return &PropertyNotUpdatableError{
			Resource: singular(table.Resource),
			Property: name,
			Current:  current,
			Desired:  value,
		}
	}
	res.Update[remote] = value
	if !d.UpdateWhileActive {
		res.Stop = true
	}
	return nil
}

func processArtificial(ctx context.Context, table *Table, a Artificial, in Input, exists bool, res *Result) error {
	resolve, ok := in.Resolvers[a.Name]
	if !ok {
		return fmt.Errorf("no resolver registered for artificial property %q", a.Name)
	}

	input, err := cast(a.Name, table.Properties[a.Name], in.Desired[a.Name])
	if err != nil {
		return err
	}

	value, err := resolve(ctx, input)
	if err != nil {
		if errors.Is(err, ErrNotResolved) {
			return &UnresolvedReferenceError{Property: a.Name, Value: input, Err: err}
		}
		return fmt.Errorf("resolve %s %v: %w", a.Name, input, err)
	}

	if !exists || !Equal(value, in.Current[a.Target]) {
		res.Update[a.Target] = value
	}
	res.Create[a.Target] = value
	return nil
}

func cast(name string, d Descriptor, value any) (any, error) {
	if d.Cast == nil {
		return value, nil
	}
	out, err := d.Cast(value)
	if err != nil {
		return nil, &InvalidValueError{Property: name, Value: value, Reason: err.Error()}
	}
	return out, nil
}

func singular(resource string) string {
	if n := len(resource); n > 1 && resource[n-1] == 's' {
		return resource[:n-1]
	}
	return resource
}
