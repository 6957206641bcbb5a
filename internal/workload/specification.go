package workload

import (
	"batchkit/internal/apperrors"
	"fmt"
	"math"
	"slices"
)

// UnitTemplate is one kind of task in a workload: a command set, the local
// files it needs and whether guarded failures fail the task. The zero value
// is an empty, non-strict unit.
type UnitTemplate struct {
	Commands CommandSet
	Files    LocalFiles
	Strict   bool
}

// Specification is a complete submittable workload.
type Specification struct {
	units     []UnitTemplate
	shared    LocalFiles
	attached  UploadedFiles
	arguments Arguments
}

// NewSpecification creates a workload from its unit templates, the files
// every task needs and the arguments to expand.
func NewSpecification(units []UnitTemplate, shared LocalFiles, arguments Arguments) Specification {
	return Specification{
		units:     slices.Clone(units),
		shared:    shared,
		arguments: arguments,
	}
}

// WithAttached returns a copy of s whose tasks also receive files that are
// already in storage.
func (s Specification) WithAttached(files UploadedFiles) Specification {
	s.attached = files
	return s
}

// Units returns the unit templates in order.
func (s Specification) Units() []UnitTemplate { return slices.Clone(s.units) }

// SharedFiles returns the files staged for every task.
func (s Specification) SharedFiles() LocalFiles { return s.shared }

// Attached returns the pre-staged files attached to every task.
func (s Specification) Attached() UploadedFiles { return s.attached }

// Arguments returns the arguments expanded over every unit.
func (s Specification) Arguments() Arguments { return s.arguments }

// TaskCount returns the number of tasks the workload expands to, saturating
// at math.MaxInt.
func (s Specification) TaskCount() int {
	units, n := len(s.units), s.arguments.Count()
	if units > 0 && n > math.MaxInt/units {
		return math.MaxInt
	}
	return units * n
}

// LocalFiles returns every local file referenced by the workload, shared
// files first.
func (s Specification) LocalFiles() LocalFiles {
	all := s.shared
	for _, u := range s.units {
		all = all.Union(u.Files)
	}
	return all
}

// Validate checks every parametrized command against the declared
// arguments without rendering anything.
func (s Specification) Validate() error {
	for i, u := range s.units {
		for _, c := range u.Commands.commands() {
			p, ok := c.(Parametrized)
			if !ok {
				continue
			}
			for _, name := range p.parameters {
				if !s.arguments.Has(name) {
					err := apperrors.UnboundParameter(name)
					return fmt.Errorf("units[%d]: %w", i, err)
				}
			}
		}
	}
	return nil
}
