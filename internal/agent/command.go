package agent

import (
	"context"
	"encoding/json"
	"strings"
)

// ParseCommand parses a console command line of the form
//
//	service.method [json args] {json kwargs}
//
// where both the args array and the kwargs object are optional. Malformed
// lines yield a ValidationError.
func ParseCommand(line string) (fun string, args any, kwargs map[string]any, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, nil, NewValidationError("Empty command!")
	}

	fun, rest, _ := strings.Cut(line, " ")
	if !strings.Contains(fun, ".") {
		return "", nil, nil, NewValidationError("Command must be service.method!")
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return fun, nil, nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(rest))

	if strings.HasPrefix(rest, "[") {
		var a []any
		if err := dec.Decode(&a); err != nil {
			return "", nil, nil, NewValidationError("Invalid args: " + err.Error())
		}
		args = a
	}

	if dec.More() || (args == nil && rest != "") {
		var kw map[string]any
		if err := dec.Decode(&kw); err != nil {
			return "", nil, nil, NewValidationError("Invalid kwargs: " + err.Error())
		}
		kwargs = kw
	}

	// Trailing garbage after the parsed values is rejected.
	if dec.More() {
		return "", nil, nil, NewValidationError("Unexpected trailing input!")
	}

	return fun, args, kwargs, nil
}

// RunCommand parses and synchronously dispatches a console command line,
// returning the agent's raw reply.
func (d *Dispatcher) RunCommand(ctx context.Context, line string) ([]byte, error) {
	fun, args, kwargs, err := ParseCommand(line)
	if err != nil {
		return nil, err
	}
	return d.LocalJob(ctx, JobOptions{
		Fun:      fun,
		Args:     args,
		Kwargs:   kwargs,
		Sync:     true,
		RaiseExc: true,
	})
}
