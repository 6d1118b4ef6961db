package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/workflow"
)

// WorkflowStates reads through the state cache when one is configured. Cache
// failures fall back to the store.
func (s *Service) WorkflowStates(ctx context.Context) ([]workflow.State, error) {
	if s.states != nil {
		cached, ok, err := s.states.States(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("read workflow state cache")
		} else if ok {
			return cached, nil
		}
	}

	entities, err := s.store.List(ctx, graph.KindWorkflowState, graph.ListOptions{OrderBy: "createdAt", Order: graph.OrderAsc})
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	states := workflow.StatesFromEntities(entities)

	if s.states != nil {
		if err := s.states.SaveStates(ctx, states); err != nil {
			s.log.Warn().Err(err).Msg("write workflow state cache")
		}
	}
	return states, nil
}

func (s *Service) CreateWorkflowState(ctx context.Context, input workflow.State) (workflow.State, error) {
	slug := slugify(input.Slug)
	if slug == "" {
		return workflow.State{}, validationError("slug is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = input.Slug
	}
	existing, err := s.store.Query(ctx, graph.KindWorkflowState, graph.Fields{"slug": slug})
	if err != nil {
		return workflow.State{}, err
	}
	if len(existing) > 0 {
		return workflow.State{}, domainError(http.StatusConflict, "STATE_EXISTS", "workflow state "+slug+" already exists", map[string]any{"slug": slug})
	}

	allowed := input.AllowedTransitions
	if allowed == nil {
		allowed = []string{}
	}
	entity, err := s.store.Create(ctx, graph.KindWorkflowState, graph.Fields{
		"slug":               slug,
		"name":               name,
		"allowedTransitions": allowed,
		"isDefault":          input.IsDefault,
	})
	if err != nil {
		return workflow.State{}, err
	}
	s.invalidateStates(ctx)
	return workflow.StateFromEntity(entity), nil
}

// ContentState returns the current state of a content, or nil when it has
// none.
func (s *Service) ContentState(ctx context.Context, contentID string) (*workflow.State, error) {
	if _, err := s.store.Get(ctx, graph.KindContent, contentID); err != nil {
		return nil, err
	}
	return s.currentState(ctx, contentID)
}

// TransitionRules lists the states the content may move to next.
func (s *Service) TransitionRules(ctx context.Context, contentID string) ([]workflow.Rule, error) {
	current, err := s.ContentState(ctx, contentID)
	if err != nil {
		return nil, err
	}
	states, err := s.WorkflowStates(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		rules := make([]workflow.Rule, 0, len(states))
		for _, state := range states {
			rules = append(rules, workflow.Rule{TargetSlug: state.Slug, TargetState: state})
		}
		return rules, nil
	}
	return workflow.TransitionRules(current.Slug, states), nil
}

// TransitionState validates the move and then rewrites the HAS_STATE edge:
// every existing edge is removed before the new one is created. A content
// without a state may enter any existing state.
func (s *Service) TransitionState(ctx context.Context, contentID, toSlug string) (workflow.State, error) {
	current, err := s.ContentState(ctx, contentID)
	if err != nil {
		return workflow.State{}, err
	}
	states, err := s.WorkflowStates(ctx)
	if err != nil {
		return workflow.State{}, err
	}

	from := ""
	if current != nil {
		from = current.Slug
		if err := workflow.Check(from, toSlug, states); err != nil {
			return workflow.State{}, err
		}
	}
	target, ok := findState(toSlug, states)
	if !ok {
		return workflow.State{}, &workflow.TransitionError{From: from, To: toSlug, Reason: workflow.ReasonStateNotFound}
	}

	content := graph.Ref{Kind: graph.KindContent, ID: contentID}
	existing, err := s.store.GetRelationships(ctx, content, graph.RelHasState, graph.Outgoing, graph.KindWorkflowState)
	if err != nil {
		return workflow.State{}, fmt.Errorf("read state of %s: %w", contentID, err)
	}
	for _, rel := range existing {
		if err := s.store.DeleteRelationship(ctx, content, graph.RelHasState, rel.Target.Ref()); err != nil {
			return workflow.State{}, fmt.Errorf("clear state of %s: %w", contentID, err)
		}
	}
	stateRef := graph.Ref{Kind: graph.KindWorkflowState, ID: target.ID}
	if err := s.store.CreateRelationship(ctx, content, graph.RelHasState, stateRef, nil); err != nil {
		return workflow.State{}, fmt.Errorf("set state of %s: %w", contentID, err)
	}

	s.log.Info().Str("content_id", contentID).Str("from", from).Str("to", toSlug).Msg("state changed")
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()
	if s.search != nil {
		s.search.Refresh(refreshCtx, contentID)
	}
	return target, nil
}

// currentState returns the first HAS_STATE target, warning when corrupt data
// carries several.
func (s *Service) currentState(ctx context.Context, contentID string) (*workflow.State, error) {
	related, err := s.store.GetRelationships(ctx, graph.Ref{Kind: graph.KindContent, ID: contentID}, graph.RelHasState, graph.Outgoing, graph.KindWorkflowState)
	if err != nil {
		return nil, fmt.Errorf("read state of %s: %w", contentID, err)
	}
	if len(related) == 0 {
		return nil, nil
	}
	if len(related) > 1 {
		s.log.Warn().Str("content_id", contentID).Int("states", len(related)).Msg("content has several states")
	}
	state := workflow.StateFromEntity(related[0].Target)
	return &state, nil
}

func (s *Service) invalidateStates(ctx context.Context) {
	if s.states == nil {
		return
	}
	if err := s.states.Invalidate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("invalidate workflow state cache")
	}
}

func findState(slug string, states []workflow.State) (workflow.State, bool) {
	for _, state := range states {
		if state.Slug == slug {
			return state, true
		}
	}
	return workflow.State{}, false
}
