package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks an [Entity] for required fields and valid values.
//
// Rules:
//   - Name must be non-empty.
//   - ReasoningEffort must be low, medium, high, or empty.
//   - Tool names must be non-empty.
//   - CustomTools entries must carry a name and parameters.
func Validate(e Entity) error {
	var errs []error

	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}

	if !e.ReasoningEffort.IsValid() {
		errs = append(errs, fmt.Errorf("reasoningEffort %q is not one of low, medium, high", e.ReasoningEffort))
	}

	for i, tool := range e.Tools {
		if strings.TrimSpace(tool) == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name must not be empty", i))
		}
	}

	for name, def := range e.CustomTools {
		if def.Name == "" {
			errs = append(errs, fmt.Errorf("customTools[%s]: function name must not be empty", name))
		}
		if def.Parameters == nil {
			errs = append(errs, fmt.Errorf("customTools[%s]: parameters schema must not be nil", name))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
