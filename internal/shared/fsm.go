package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Transition is a named edge of a status graph.
type Transition struct {
	Event string
	From  []string
	To    string
}

// StateMachine holds an explicit transition table. It is stateless; every call
// starts a fresh looplab machine at the supplied status.
type StateMachine struct {
	name   string
	events fsm.Events
}

// NewStateMachine builds a machine for the named entity.
func NewStateMachine(name string, transitions ...Transition) StateMachine {
	events := make(fsm.Events, 0, len(transitions))
	for _, t := range transitions {
		events = append(events, fsm.EventDesc{Name: t.Event, Src: t.From, Dst: t.To})
	}
	return StateMachine{name: name, events: events}
}

// Can reports whether event is allowed from current.
func (m StateMachine) Can(current, event string) bool {
	return fsm.NewFSM(current, m.events, nil).Can(event)
}

// Fire applies event to current and returns the resulting status. A disallowed
// edge yields an error wrapping ErrInvalidTransition.
func (m StateMachine) Fire(ctx context.Context, current, event string) (string, error) {
	machine := fsm.NewFSM(current, m.events, nil)
	if !machine.Can(event) {
		return current, fmt.Errorf("%w: %s cannot %s from %s", ErrInvalidTransition, m.name, event, current)
	}
	if err := machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return current, nil
		}
		return current, fmt.Errorf("%w: %s %s: %v", ErrInvalidTransition, m.name, event, err)
	}
	return machine.Current(), nil
}

// EventTo returns the first event that moves current to target.
func (m StateMachine) EventTo(current, target string) (string, bool) {
	for _, e := range m.events {
		if e.Dst != target {
			continue
		}
		for _, src := range e.Src {
			if src == current {
				return e.Name, true
			}
		}
	}
	return "", false
}
