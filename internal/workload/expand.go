package workload

import (
	"batchkit/internal/apperrors"
	"fmt"
)

// MaxTasks bounds the number of tasks a single expansion may produce.
const MaxTasks = 1 << 20

// ConcreteTask is one rendered task produced by expansion. Index is the
// position in expansion order and identifies the task in submission results.
type ConcreteTask struct {
	Index         int
	Unit          int
	Binding       int
	Name          string
	Arguments     map[string]string
	CommandLine   string
	RequiredFiles LocalFiles
	Strict        bool
}

// TaskName derives the name of the task for a unit and binding index.
func TaskName(unit, binding int) string {
	return fmt.Sprintf("task-%d-%d", unit, binding)
}

// Expand renders every unit under every binding: units in declared order,
// and for each unit the bindings in cross-product order. The result depends
// only on s. Specifications above MaxTasks fail validation before anything
// is rendered.
func Expand(s Specification) ([]ConcreteTask, error) {
	n := s.TaskCount()
	if n > MaxTasks {
		return nil, apperrors.Validation("workload", fmt.Sprintf("workload expands to more than %d tasks", MaxTasks))
	}
	tasks := make([]ConcreteTask, 0, n)
	for u, unit := range s.units {
		files := s.shared.Union(unit.Files)
		for i, b := range s.arguments.Bindings() {
			line, err := unit.Commands.Render(b, unit.Strict)
			if err != nil {
				return nil, fmt.Errorf("units[%d] %s: %w", u, b, err)
			}
			tasks = append(tasks, ConcreteTask{
				Index:         len(tasks),
				Unit:          u,
				Binding:       i,
				Name:          TaskName(u, i),
				Arguments:     b.Map(),
				CommandLine:   line,
				RequiredFiles: files,
				Strict:        unit.Strict,
			})
		}
	}
	return tasks, nil
}
