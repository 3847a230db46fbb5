package shared

import "fmt"

// Machine is a declarative transition table: for every action, the set of source
// statuses it may fire from and the status it leads to.
type Machine[S ~string, A ~string] struct {
	name  string
	rules map[A]rule[S]
}

type rule[S ~string] struct {
	from map[S]struct{}
	to   S
}

// NewMachine builds an empty table; name prefixes transition errors.
func NewMachine[S ~string, A ~string](name string) *Machine[S, A] {
	return &Machine[S, A]{name: name, rules: make(map[A]rule[S])}
}

// Allow registers action moving any of from into to.
func (m *Machine[S, A]) Allow(action A, to S, from ...S) *Machine[S, A] {
	r := rule[S]{from: make(map[S]struct{}, len(from)), to: to}
	for _, s := range from {
		r.from[s] = struct{}{}
	}
	m.rules[action] = r
	return m
}

// Next returns the status reached by firing action from current, or an error
// wrapping ErrInvalidTransition.
func (m *Machine[S, A]) Next(current S, action A) (S, error) {
	r, ok := m.rules[action]
	if !ok {
		return current, fmt.Errorf("%s: %w: unknown action %s", m.name, ErrInvalidTransition, action)
	}
	if _, ok := r.from[current]; !ok {
		return current, fmt.Errorf("%s: %w: cannot %s from %s", m.name, ErrInvalidTransition, action, current)
	}
	return r.to, nil
}

// Can reports whether action is allowed from current.
func (m *Machine[S, A]) Can(current S, action A) bool {
	_, err := m.Next(current, action)
	return err == nil
}

// Terminal reports whether no action leaves status.
func (m *Machine[S, A]) Terminal(status S) bool {
	for _, r := range m.rules {
		if _, ok := r.from[status]; ok {
			return false
		}
	}
	return true
}
