package workload

import "slices"

// ErrorHandledCommand is a guarded step: run Primary, and if it exits
// non-zero run Fallback instead of propagating the failure. A nil Fallback
// means the step has no recovery.
type ErrorHandledCommand struct {
	Primary  Command
	Fallback Command
}

// Try guards cmd without a fallback.
func Try(cmd Command) ErrorHandledCommand {
	return ErrorHandledCommand{Primary: cmd}
}

// Catch returns a copy of c that recovers with fallback.
func (c ErrorHandledCommand) Catch(fallback Command) ErrorHandledCommand {
	c.Fallback = fallback
	return c
}

// HasFallback reports whether the step can recover from a failed primary.
func (c ErrorHandledCommand) HasFallback() bool {
	return c.Fallback != nil
}

// CommandSet is an ordered list of guarded steps followed by an ordered list
// of unconditional steps that run regardless of how the guarded ones ended.
// The zero value is the empty set and the identity of Append.
type CommandSet struct {
	guarded       []ErrorHandledCommand
	unconditional []Command
}

// NewCommandSet builds a CommandSet from guarded and unconditional steps.
func NewCommandSet(guarded []ErrorHandledCommand, unconditional []Command) CommandSet {
	return CommandSet{
		guarded:       slices.Clone(guarded),
		unconditional: slices.Clone(unconditional),
	}
}

// Guarded returns the guarded steps in order.
func (s CommandSet) Guarded() []ErrorHandledCommand { return slices.Clone(s.guarded) }

// Unconditional returns the unconditional steps in order.
func (s CommandSet) Unconditional() []Command { return slices.Clone(s.unconditional) }

// IsZero reports whether the set has no steps at all.
func (s CommandSet) IsZero() bool {
	return len(s.guarded) == 0 && len(s.unconditional) == 0
}

// Append returns a set running the steps of s and then those of other:
// guarded steps of both in order, then unconditional steps of both in order.
func (s CommandSet) Append(other CommandSet) CommandSet {
	return CommandSet{
		guarded:       slices.Concat(s.guarded, other.guarded),
		unconditional: slices.Concat(s.unconditional, other.unconditional),
	}
}

// commands returns every command of the set, fallbacks included.
func (s CommandSet) commands() []Command {
	var all []Command
	for _, g := range s.guarded {
		all = append(all, g.Primary)
		if g.Fallback != nil {
			all = append(all, g.Fallback)
		}
	}
	return append(all, s.unconditional...)
}
