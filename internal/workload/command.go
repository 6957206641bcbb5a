// Package workload defines the immutable workload model: commands and their
// composition, file references, unit templates and argument bindings, plus the
// expansion of a Specification into concrete, rendered tasks.
//
// Nothing in this package talks to a remote service. Every value is immutable
// once constructed; slices are copied on the way in and on the way out.
package workload

import (
	"batchkit/internal/apperrors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// placeholderPattern matches "%name%" placeholders and the "%%" escape.
var placeholderPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_-]*)?%`)

// parameterNamePattern is the set of names a placeholder can carry.
var parameterNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Command is one executable shell step: either Simple or Parametrized.
type Command interface {
	// Render returns the shell text of the command under binding b.
	Render(b Binding) (string, error)
	// String returns the command as declared, without substitution.
	String() string

	isCommand()
}

// Simple is a literal shell command.
type Simple struct {
	Text string
}

// NewSimple creates a literal command.
func NewSimple(text string) Simple {
	return Simple{Text: text}
}

func (s Simple) Render(Binding) (string, error) { return s.Text, nil }
func (s Simple) String() string                 { return s.Text }
func (Simple) isCommand()                        {}

// Parametrized is a command template whose %name% placeholders are filled in
// from a Binding. The placeholder set always equals the declared parameters.
type Parametrized struct {
	template   string
	parameters []string
}

// NewParametrized validates template against the declared parameter names.
// It fails with a MalformedTemplate error when a placeholder is undeclared,
// a declared name is never referenced, or a name is declared twice.
func NewParametrized(template string, parameters ...string) (Parametrized, error) {
	seen := make(map[string]bool, len(parameters))
	for _, name := range parameters {
		if !parameterNamePattern.MatchString(name) {
			return Parametrized{}, apperrors.MalformedTemplate(template, fmt.Sprintf("invalid parameter name %q", name))
		}
		if seen[name] {
			return Parametrized{}, apperrors.MalformedTemplate(template, fmt.Sprintf("parameter %q declared more than once", name))
		}
		seen[name] = true
	}

	used := placeholders(template)
	for _, name := range used {
		if !seen[name] {
			return Parametrized{}, apperrors.MalformedTemplate(template, fmt.Sprintf("placeholder %q is not declared", name))
		}
	}
	for _, name := range parameters {
		if !slices.Contains(used, name) {
			return Parametrized{}, apperrors.MalformedTemplate(template, fmt.Sprintf("parameter %q is not referenced", name))
		}
	}

	return Parametrized{
		template:   template,
		parameters: slices.Clone(parameters),
	}, nil
}

// MustParametrized is NewParametrized for templates known to be valid.
// It panics on error.
func MustParametrized(template string, parameters ...string) Parametrized {
	p, err := NewParametrized(template, parameters...)
	if err != nil {
		panic(err)
	}
	return p
}

// Template returns the raw template text.
func (p Parametrized) Template() string { return p.template }

// Parameters returns the declared parameter names in declaration order.
func (p Parametrized) Parameters() []string { return slices.Clone(p.parameters) }

func (p Parametrized) String() string { return p.template }
func (Parametrized) isCommand()       {}

// Render substitutes every placeholder with its value from b.
func (p Parametrized) Render(b Binding) (string, error) {
	// Commands may be combined with arguments they were not declared against,
	// so every name is checked even though construction validated the template.
	for _, name := range p.parameters {
		if _, ok := b.Lookup(name); !ok {
			return "", apperrors.UnboundParameter(name)
		}
	}

	var out strings.Builder
	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(p.template, -1) {
		out.WriteString(p.template[last:m[0]])
		if m[2] < 0 {
			out.WriteByte('%')
		} else {
			value, _ := b.Lookup(p.template[m[2]:m[3]])
			out.WriteString(value)
		}
		last = m[1]
	}
	out.WriteString(p.template[last:])
	return out.String(), nil
}

// placeholders returns the distinct placeholder names of template in order
// of first appearance. The "%%" escape is not a placeholder.
func placeholders(template string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if m[1] == "" || slices.Contains(names, m[1]) {
			continue
		}
		names = append(names, m[1])
	}
	return names
}
