package work

import (
	"context"
	"strings"
)

// Action performs the work of a single step.
//
// ctx is cancelled when the fiber running the step is cancelled or its attempt
// times out. Steps should check it before issuing irreversible external calls.
type Action func(ctx context.Context, p *Packet) NextAction

// Step is an immutable node of a chain. A chain is identified by its head step.
type Step struct {
	name   string
	action Action
	next   *Step
}

// NewStep creates a step that runs action and then continues with next.
func NewStep(name string, action Action, next *Step) *Step {
	return &Step{name: name, action: action, next: next}
}

// Name returns the step name.
func (s *Step) Name() string {
	return s.name
}

// Next returns the following step, or nil at the end of the chain.
func (s *Step) Next() *Step {
	return s.next
}

// Names returns the names of this step and all steps after it.
func (s *Step) Names() []string {
	var names []string
	for cur := s; cur != nil; cur = cur.next {
		names = append(names, cur.name)
	}
	return names
}

func (s *Step) String() string {
	return strings.Join(s.Names(), " -> ")
}

// Link describes one step for Chain.
type Link struct {
	Name   string
	Action Action
}

// Chain builds a chain from links, starting with the tail.
func Chain(links ...Link) *Step {
	var next *Step
	for i := len(links) - 1; i >= 0; i-- {
		next = NewStep(links[i].Name, links[i].Action, next)
	}
	return next
}

// Append returns a chain that runs the steps of head followed by tail. Neither
// chain is modified; the nodes of head are copied.
func Append(head, tail *Step) *Step {
	if head == nil {
		return tail
	}
	return NewStep(head.name, head.action, Append(head.next, tail))
}
