package statemachine

import "fmt"

// Transition declares that firing Event while in From moves to To.
type Transition[S, E comparable] struct {
	From  S
	Event E
	To    S
}

// Table is an immutable transition table. It holds no current state:
// callers keep state in their own records and ask the table what comes next.
// Safe for concurrent use once built.
type Table[S, E comparable] struct {
	next map[S]map[E]S
}

// New builds a table from the given transitions.
// Declaring the same (from, event) pair twice is a configuration error.
func New[S, E comparable](transitions ...Transition[S, E]) (*Table[S, E], error) {
	if len(transitions) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table[S, E]{
		next: make(map[S]map[E]S),
	}

	for i, tr := range transitions {
		byEvent, ok := t.next[tr.From]
		if !ok {
			byEvent = make(map[E]S)
			t.next[tr.From] = byEvent
		}
		if _, dup := byEvent[tr.Event]; dup {
			return nil, fmt.Errorf("transition[%d] %v --%v--> %v: %w", i, tr.From, tr.Event, tr.To, ErrDuplicateTransition)
		}
		byEvent[tr.Event] = tr.To
	}

	return t, nil
}

// MustNew works like New but panics on invalid configuration.
// Transition tables are static, so a broken one should stop startup.
func MustNew[S, E comparable](transitions ...Transition[S, E]) *Table[S, E] {
	t, err := New(transitions...)
	if err != nil {
		panic(fmt.Sprintf("failed to build transition table: %v", err))
	}
	return t
}

// Next returns the state reached by firing event from the given state.
func (t *Table[S, E]) Next(from S, event E) (S, error) {
	if to, ok := t.next[from][event]; ok {
		return to, nil
	}
	var zero S
	return zero, &TransitionError{From: fmt.Sprint(from), Event: fmt.Sprint(event)}
}

// CanFire reports whether event is legal in the given state.
func (t *Table[S, E]) CanFire(from S, event E) bool {
	_, ok := t.next[from][event]
	return ok
}
