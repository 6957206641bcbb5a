package workload

import (
	"batchkit/internal/apperrors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
)

// Parameter is one named argument with its candidate values.
type Parameter struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

// Arguments maps parameter names to candidate values, keeping declaration
// order. The zero value declares nothing and expands to a single empty
// binding.
type Arguments struct {
	names  []string
	values map[string][]string
}

// NewArguments declares parameters in order. Names must be unique and valid
// placeholder names.
func NewArguments(params ...Parameter) (Arguments, error) {
	a := Arguments{values: make(map[string][]string, len(params))}
	for i, p := range params {
		field := fmt.Sprintf("arguments[%d]", i)
		if !parameterNamePattern.MatchString(p.Name) {
			return Arguments{}, apperrors.Validation(field, fmt.Sprintf("invalid argument name %q", p.Name))
		}
		if _, dup := a.values[p.Name]; dup {
			return Arguments{}, apperrors.Validation(field, fmt.Sprintf("argument %q declared more than once", p.Name))
		}
		a.names = append(a.names, p.Name)
		a.values[p.Name] = slices.Clone(p.Values)
	}
	return a, nil
}

// Names returns the parameter names in declaration order.
func (a Arguments) Names() []string { return slices.Clone(a.names) }

// Values returns the candidate values of name.
func (a Arguments) Values(name string) []string { return slices.Clone(a.values[name]) }

// Has reports whether name is declared.
func (a Arguments) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Count returns the number of bindings: the product of the value counts,
// or 1 when nothing is declared. It saturates at math.MaxInt.
func (a Arguments) Count() int {
	for _, name := range a.names {
		if len(a.values[name]) == 0 {
			return 0
		}
	}
	n := 1
	for _, name := range a.names {
		k := len(a.values[name])
		if n > math.MaxInt/k {
			return math.MaxInt
		}
		n *= k
	}
	return n
}

// Bindings yields every binding of the cross product with its index. The
// last declared parameter varies fastest.
func (a Arguments) Bindings() iter.Seq2[int, Binding] {
	return func(yield func(int, Binding) bool) {
		for _, name := range a.names {
			if len(a.values[name]) == 0 {
				return
			}
		}

		cursor := make([]int, len(a.names))
		for i := 0; ; i++ {
			values := make([]string, len(a.names))
			for k, name := range a.names {
				values[k] = a.values[name][cursor[k]]
			}
			if !yield(i, Binding{names: a.names, values: values}) {
				return
			}

			k := len(cursor) - 1
			for ; k >= 0; k-- {
				cursor[k]++
				if cursor[k] < len(a.values[a.names[k]]) {
					break
				}
				cursor[k] = 0
			}
			if k < 0 {
				return
			}
		}
	}
}

// Binding assigns exactly one value to every declared parameter.
type Binding struct {
	names  []string
	values []string
}

// Lookup returns the value bound to name.
func (b Binding) Lookup(name string) (string, bool) {
	i := slices.Index(b.names, name)
	if i < 0 {
		return "", false
	}
	return b.values[i], true
}

// Map returns the binding as a name to value map.
func (b Binding) Map() map[string]string {
	m := make(map[string]string, len(b.names))
	for i, name := range b.names {
		m[name] = b.values[i]
	}
	return m
}

// Len returns the number of bound parameters.
func (b Binding) Len() int { return len(b.names) }

// String renders the binding as "name=value" pairs in declaration order.
func (b Binding) String() string {
	pairs := make([]string, len(b.names))
	for i, name := range b.names {
		pairs[i] = name + "=" + b.values[i]
	}
	return strings.Join(pairs, ",")
}
