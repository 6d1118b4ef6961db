package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/revision"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/tree"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr     *DomainError
		notFound      *graph.NotFoundError
		invalid       *revision.ValidationError
		denied        *revision.PermissionError
		cycle         *tree.CycleError
		hasChildren   *tree.HasChildrenError
		transitionErr *workflow.TransitionError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NOT_FOUND", notFound.Error(), map[string]any{"kind": notFound.Kind, "id": notFound.ID}
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", invalid.Error(), map[string]any{"field": invalid.Field}
	case errors.As(err, &denied):
		return http.StatusForbidden, "PERMISSION_DENIED", denied.Error(), map[string]any{"kind": denied.Kind, "id": denied.ID, "operation": denied.Operation}
	case errors.As(err, &cycle):
		return http.StatusConflict, "CYCLE_DETECTED", cycle.Error(), map[string]any{"id": cycle.ID, "parentId": cycle.ParentID}
	case errors.As(err, &hasChildren):
		return http.StatusConflict, "HAS_CHILDREN", hasChildren.Error(), map[string]any{"id": hasChildren.ID, "children": hasChildren.Children}
	case errors.As(err, &transitionErr):
		return http.StatusConflict, "TRANSITION_NOT_ALLOWED", transitionErr.Error(), map[string]any{"from": transitionErr.From, "to": transitionErr.To, "reason": transitionErr.Reason}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
