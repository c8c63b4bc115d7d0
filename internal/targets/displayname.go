package targets

import (
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

// DisplayName decides how a matched tool is labelled in events. Static wins over Expression;
// with neither set the process name is used.
type DisplayName struct {
	Static     string `yaml:"static,omitempty"`
	Expression string `yaml:"expression,omitempty"`

	program *vm.Program
}

func displayNameEnv(name string, args []string) map[string]interface{} {
	return map[string]interface{}{
		"name":    name,
		"args":    args,
		"cmdline": strings.Join(args, " "),
	}
}

func (d *DisplayName) compile() error {
	if d.Expression == "" {
		return nil
	}

	program, err := expr.Compile(d.Expression, expr.Env(displayNameEnv("", []string{})), expr.AsKind(reflect.String))
	if err != nil {
		return errors.WithMessagef(err, "compile display name expression '%s'", d.Expression)
	}
	d.program = program
	return nil
}

// Resolve returns the display name for a process. On an evaluation error the process name is
// returned together with the error.
func (d *DisplayName) Resolve(name string, args []string) (string, error) {
	if d.Static != "" {
		return d.Static, nil
	}
	if d.program == nil {
		return name, nil
	}

	if args == nil {
		args = []string{}
	}

	output, err := expr.Run(d.program, displayNameEnv(name, args))
	if err != nil {
		return name, errors.WithMessage(err, "evaluate display name expression")
	}

	resolved, ok := output.(string)
	if !ok || resolved == "" {
		return name, nil
	}
	return resolved, nil
}

func (d *DisplayName) equal(other *DisplayName) bool {
	return d.Static == other.Static && d.Expression == other.Expression
}
