package workflow

import "fmt"

type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transition %q -> %q rejected: %s", e.From, e.To, e.Reason)
}
