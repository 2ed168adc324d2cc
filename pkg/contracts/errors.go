package contracts

import "fmt"

// ValidationError reports a structurally invalid input artifact. Callers map
// it to the invalid-input exit path.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Detail)
}
