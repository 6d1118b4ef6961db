package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

func fixtureStates() []State {
	return []State{
		{Slug: "draft", Name: "Draft", AllowedTransitions: []string{"review", "archived"}, IsDefault: true},
		{Slug: "review", Name: "In review", AllowedTransitions: []string{"draft", "published"}},
		{Slug: "published", Name: "Published", AllowedTransitions: []string{"archived", "ghost"}},
		{Slug: "archived", Name: "Archived"},
	}
}

func TestValidateTransition(t *testing.T) {
	states := fixtureStates()
	cases := []struct {
		name     string
		from, to string
		valid    bool
		reason   string
	}{
		{name: "allowed", from: "draft", to: "review", valid: true},
		{name: "cycle back allowed", from: "review", to: "draft", valid: true},
		{name: "not adjacent", from: "draft", to: "published", reason: "not allowed"},
		{name: "terminal state", from: "archived", to: "draft", reason: "not allowed"},
		{name: "self without edge", from: "draft", to: "draft", reason: "not allowed"},
		{name: "unknown from", from: "missing", to: "draft", reason: "state not found"},
		{name: "unknown to", from: "draft", to: "missing", reason: "state not found"},
		{name: "dangling target slug", from: "published", to: "ghost", reason: "state not found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateTransition(tc.from, tc.to, states)
			assert.Equal(t, tc.valid, got.Valid)
			if tc.valid {
				assert.Empty(t, got.Reason)
				return
			}
			assert.Contains(t, got.Reason, tc.reason)
		})
	}
}

// Valid exactly when the target is listed on the source, for every pair.
func TestValidateTransitionMatchesAdjacency(t *testing.T) {
	states := fixtureStates()
	for _, from := range states {
		for _, to := range states {
			got := ValidateTransition(from.Slug, to.Slug, states)
			want := false
			for _, slug := range from.AllowedTransitions {
				if slug == to.Slug {
					want = true
				}
			}
			assert.Equal(t, want, got.Valid, "%s -> %s", from.Slug, to.Slug)
		}
	}
}

func TestTransitionRules(t *testing.T) {
	states := fixtureStates()

	rules := TransitionRules("published", states)
	require.Len(t, rules, 1)
	assert.Equal(t, "archived", rules[0].TargetSlug)
	assert.Equal(t, "Archived", rules[0].TargetState.Name)

	rules = TransitionRules("draft", states)
	require.Len(t, rules, 2)
	assert.Equal(t, "review", rules[0].TargetSlug)
	assert.Equal(t, "archived", rules[1].TargetSlug)

	assert.Empty(t, TransitionRules("archived", states))
	assert.NotNil(t, TransitionRules("missing", states))
	assert.Empty(t, TransitionRules("missing", states))
}

func TestCheck(t *testing.T) {
	states := fixtureStates()
	require.NoError(t, Check("draft", "review", states))

	err := Check("draft", "published", states)
	var transitionErr *TransitionError
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, "draft", transitionErr.From)
	assert.Equal(t, "published", transitionErr.To)
	assert.Contains(t, transitionErr.Reason, "not allowed")
}

func TestDefault(t *testing.T) {
	state, ok := Default(fixtureStates())
	require.True(t, ok)
	assert.Equal(t, "draft", state.Slug)

	_, ok = Default(nil)
	assert.False(t, ok)
}

func TestStateFromEntity(t *testing.T) {
	entity := graph.Entity{
		ID:   "wfs_1",
		Kind: graph.KindWorkflowState,
		Fields: graph.Fields{
			"slug":               "review",
			"name":               "In review",
			"allowedTransitions": []any{"draft", "published"},
			"isDefault":          false,
		},
	}
	state := StateFromEntity(entity)
	assert.Equal(t, State{
		ID:                 "wfs_1",
		Slug:               "review",
		Name:               "In review",
		AllowedTransitions: []string{"draft", "published"},
	}, state)

	// postgres and surreal may hand the list back as a JSON string
	entity.Fields["allowedTransitions"] = `["draft"]`
	assert.Equal(t, []string{"draft"}, StateFromEntity(entity).AllowedTransitions)
}
