package revision

import (
	"fmt"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermissionError rejects an operation on system-protected content.
type PermissionError struct {
	Kind      graph.Kind
	ID        string
	Operation string
}

func (e *PermissionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s not permitted on protected %s %q", e.Operation, e.Kind, e.ID)
}
