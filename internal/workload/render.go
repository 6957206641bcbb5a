package workload

import "strings"

// statusVar carries the exit status through the unconditional section.
const statusVar = "__rc"

// Render turns the set into a POSIX sh script for binding b.
//
// Every step runs in its own subshell, so an "exit" inside a step ends only
// that step. A guarded step with a fallback renders as
// "{ ( p ) || ( f ); }" and succeeds whenever its fallback does. In strict
// mode the guarded steps are chained with "&&" and the first unrecovered
// failure skips the rest; otherwise each one is followed by "|| true".
// Unconditional steps always run afterwards. The script exits non-zero when an
// unconditional step fails, or in strict mode when a guarded step could not be
// recovered.
//
// A lone strict step without fallback or unconditional steps is returned
// verbatim.
func (s CommandSet) Render(b Binding, strict bool) (string, error) {
	if strict && len(s.guarded) == 1 && s.guarded[0].Fallback == nil && len(s.unconditional) == 0 {
		text, err := s.guarded[0].Primary.Render(b)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "true", nil
		}
		return text, nil
	}

	guarded := make([]string, 0, len(s.guarded))
	for _, g := range s.guarded {
		step, err := renderGuarded(g, b)
		if err != nil {
			return "", err
		}
		guarded = append(guarded, step)
	}

	unconditional := make([]string, 0, len(s.unconditional))
	for _, c := range s.unconditional {
		text, err := c.Render(b)
		if err != nil {
			return "", err
		}
		unconditional = append(unconditional, subshell(text)+" || "+statusVar+"=$?")
	}

	var lines []string
	switch {
	case len(guarded) == 0:
	case strict:
		lines = append(lines, strings.Join(guarded, " &&\n"))
	default:
		for _, g := range guarded {
			lines = append(lines, g+" || true")
		}
	}

	if len(unconditional) == 0 {
		if len(lines) == 0 {
			return "true", nil
		}
		return strings.Join(lines, "\n"), nil
	}

	if strict && len(guarded) > 0 {
		lines = append(lines, statusVar+"=$?")
	} else {
		lines = append(lines, statusVar+"=0")
	}
	lines = append(lines, unconditional...)
	lines = append(lines, "exit $"+statusVar)
	return strings.Join(lines, "\n"), nil
}

func renderGuarded(g ErrorHandledCommand, b Binding) (string, error) {
	primary, err := g.Primary.Render(b)
	if err != nil {
		return "", err
	}
	if g.Fallback == nil {
		return subshell(primary), nil
	}
	fallback, err := g.Fallback.Render(b)
	if err != nil {
		return "", err
	}
	return "{ " + subshell(primary) + " || " + subshell(fallback) + "; }", nil
}

// subshell runs text in a subshell. The closing parenthesis goes on its own
// line so a trailing comment, heredoc or "&" in text stays well formed. Blank
// text becomes the null command.
func subshell(text string) string {
	text = strings.TrimRight(text, " \t\n")
	if strings.TrimSpace(text) == "" {
		text = ":"
	}
	return "( " + text + "\n)"
}
