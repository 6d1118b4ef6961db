// Package workflow validates lifecycle state transitions. It only answers
// whether a one-hop move is allowed; rewriting the HAS_STATE edge is left to
// the caller.
package workflow

import (
	"fmt"
	"slices"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

const (
	ReasonStateNotFound = "state not found"
)

type State struct {
	ID                 string   `json:"id,omitempty"`
	Slug               string   `json:"slug"`
	Name               string   `json:"name"`
	AllowedTransitions []string `json:"allowedTransitions"`
	IsDefault          bool     `json:"isDefault,omitempty"`
}

type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type Rule struct {
	TargetSlug  string `json:"targetSlug"`
	TargetState State  `json:"targetState"`
}

func ValidateTransition(from, to string, states []State) Result {
	source, ok := find(from, states)
	if !ok {
		return Result{Reason: ReasonStateNotFound}
	}
	if _, ok := find(to, states); !ok {
		return Result{Reason: ReasonStateNotFound}
	}
	if !slices.Contains(source.AllowedTransitions, to) {
		return Result{Reason: fmt.Sprintf("transition from %q to %q is not allowed", from, to)}
	}
	return Result{Valid: true}
}

// TransitionRules lists the states reachable from `from` in exactly one step.
// Slugs in allowedTransitions that match no state are skipped.
func TransitionRules(from string, states []State) []Rule {
	source, ok := find(from, states)
	if !ok {
		return []Rule{}
	}
	rules := make([]Rule, 0, len(source.AllowedTransitions))
	seen := make(map[string]struct{}, len(source.AllowedTransitions))
	for _, slug := range source.AllowedTransitions {
		if _, dup := seen[slug]; dup {
			continue
		}
		target, ok := find(slug, states)
		if !ok {
			continue
		}
		seen[slug] = struct{}{}
		rules = append(rules, Rule{TargetSlug: slug, TargetState: target})
	}
	return rules
}

// Check is ValidateTransition as an error: nil when allowed, otherwise a
// *TransitionError.
func Check(from, to string, states []State) error {
	result := ValidateTransition(from, to, states)
	if result.Valid {
		return nil
	}
	return &TransitionError{From: from, To: to, Reason: result.Reason}
}

// Default returns the state flagged isDefault, if any.
func Default(states []State) (State, bool) {
	for _, state := range states {
		if state.IsDefault {
			return state, true
		}
	}
	return State{}, false
}

func StateFromEntity(entity graph.Entity) State {
	return State{
		ID:                 entity.ID,
		Slug:               entity.String("slug"),
		Name:               entity.String("name"),
		AllowedTransitions: entity.Strings("allowedTransitions"),
		IsDefault:          entity.Bool("isDefault"),
	}
}

func StatesFromEntities(entities []graph.Entity) []State {
	out := make([]State, 0, len(entities))
	for _, entity := range entities {
		out = append(out, StateFromEntity(entity))
	}
	return out
}

func find(slug string, states []State) (State, bool) {
	for _, state := range states {
		if state.Slug == slug {
			return state, true
		}
	}
	return State{}, false
}
