package workload

import (
	"batchkit/internal/apperrors"
	"errors"
	"testing"
)

func mustArguments(t *testing.T, params ...Parameter) Arguments {
	t.Helper()
	args, err := NewArguments(params...)
	if err != nil {
		t.Fatalf("NewArguments() error = %v", err)
	}
	return args
}

func firstBinding(t *testing.T, args Arguments) Binding {
	t.Helper()
	for _, b := range args.Bindings() {
		return b
	}
	t.Fatal("arguments produced no binding")
	return Binding{}
}

func TestNewParametrized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		template   string
		parameters []string
		wantErr    bool
	}{
		{"single placeholder", "echo %user%", []string{"user"}, false},
		{"repeated placeholder", "echo %user% %user%", []string{"user"}, false},
		{"two placeholders", "cp %src% %dst%", []string{"src", "dst"}, false},
		{"escape only", "printf '100%%'", nil, false},
		{"hyphenated name", "run --mode=%run-mode%", []string{"run-mode"}, false},
		{"undeclared placeholder", "echo %user%", nil, true},
		{"unreferenced parameter", "echo hello", []string{"user"}, true},
		{"duplicate parameter", "echo %user%", []string{"user", "user"}, true},
		{"invalid parameter name", "echo %1st%", []string{"1st"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewParametrized(tt.template, tt.parameters...)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrMalformedTemplate) {
					t.Errorf("NewParametrized(%q) error = %v, want ErrMalformedTemplate", tt.template, err)
				}
				return
			}
			if err != nil {
				t.Errorf("NewParametrized(%q) unexpected error: %v", tt.template, err)
			}
		})
	}
}

func TestParametrized_Render(t *testing.T) {
	t.Parallel()

	args := mustArguments(t,
		Parameter{Name: "user", Values: []string{"john"}},
		Parameter{Name: "pct", Values: []string{"42"}},
	)
	b := firstBinding(t, args)

	tests := []struct {
		name string
		cmd  Parametrized
		want string
	}{
		{"substitutes", MustParametrized("echo %user%", "user"), "echo john"},
		{"every occurrence", MustParametrized("%user%:%user%", "user"), "john:john"},
		{"escape", MustParametrized("printf '%pct%%%'", "pct"), "printf '42%'"},
		{"escape next to text", MustParametrized("echo 100%% %user%", "user"), "echo 100% john"},
	}

	for _, tt := range tests {
		got, err := tt.cmd.Render(b)
		if err != nil {
			t.Errorf("%s: Render() error = %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: Render() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestParametrized_RenderUnbound(t *testing.T) {
	t.Parallel()

	cmd := MustParametrized("echo %user%", "user")
	_, err := cmd.Render(Binding{})
	if !errors.Is(err, apperrors.ErrUnboundParameter) {
		t.Errorf("Render() error = %v, want ErrUnboundParameter", err)
	}
}

func TestSimple_RenderIgnoresPercent(t *testing.T) {
	t.Parallel()

	cmd := NewSimple("echo %user%")
	got, err := cmd.Render(Binding{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got != "echo %user%" {
		t.Errorf("Render() = %q, want literal text", got)
	}
}

func TestMustParametrized_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected MustParametrized to panic on an undeclared placeholder")
		}
	}()
	MustParametrized("echo %user%")
}
