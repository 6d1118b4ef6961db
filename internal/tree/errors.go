package tree

import (
	"fmt"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

// CycleError rejects a reparent that would make a node its own ancestor.
type CycleError struct {
	Kind     graph.Kind
	ID       string
	ParentID string
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	if e.ID == e.ParentID {
		return fmt.Sprintf("%s %q cannot be its own parent", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %q cannot move under its descendant %q", e.Kind, e.ID, e.ParentID)
}

type HasChildrenError struct {
	Kind     graph.Kind
	ID       string
	Children []string
}

func (e *HasChildrenError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %q still has %d children", e.Kind, e.ID, len(e.Children))
}
