package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/config"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/revision"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/search"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/tree"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/workflow"
)

type fakeStateCache struct {
	statesFn     func(context.Context) ([]workflow.State, bool, error)
	saveStatesFn func(context.Context, []workflow.State) error
	invalidateFn func(context.Context) error

	mu          sync.Mutex
	saved       [][]workflow.State
	invalidated int
}

func (f *fakeStateCache) States(ctx context.Context) ([]workflow.State, bool, error) {
	if f.statesFn != nil {
		return f.statesFn(ctx)
	}
	return nil, false, nil
}

func (f *fakeStateCache) SaveStates(ctx context.Context, states []workflow.State) error {
	f.mu.Lock()
	f.saved = append(f.saved, states)
	f.mu.Unlock()
	if f.saveStatesFn != nil {
		return f.saveStatesFn(ctx, states)
	}
	return nil
}

func (f *fakeStateCache) Invalidate(ctx context.Context) error {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
	if f.invalidateFn != nil {
		return f.invalidateFn(ctx)
	}
	return nil
}

type fakeSearch struct {
	searchFn func(context.Context, search.Query) search.Response

	mu        sync.Mutex
	refreshed []string
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) Refresh(_ context.Context, contentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, contentID)
}

type fakeArchive struct {
	archiveFn func(context.Context, revision.Snapshot) (string, error)

	mu        sync.Mutex
	snapshots []revision.Snapshot
}

func (f *fakeArchive) Archive(ctx context.Context, snapshot revision.Snapshot) (string, error) {
	f.mu.Lock()
	f.snapshots = append(f.snapshots, snapshot)
	f.mu.Unlock()
	if f.archiveFn != nil {
		return f.archiveFn(ctx, snapshot)
	}
	return "revisions/" + snapshot.Revision.ContentID + "/" + snapshot.Revision.ID + ".json", nil
}

type testEnv struct {
	ctx     context.Context
	store   *graph.MemoryStore
	svc     *Service
	search  *fakeSearch
	archive *fakeArchive
	author  User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := graph.NewMemoryStore()
	env := &testEnv{
		ctx:     ctx,
		store:   store,
		search:  &fakeSearch{},
		archive: &fakeArchive{},
	}
	env.svc = New(config.Config{}, store, zerolog.Nop()).
		WithSearch(env.search).
		WithArchive(env.archive)
	require.NoError(t, env.svc.Bootstrap(ctx))

	author, err := env.svc.CreateUser(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	env.author = author
	return env
}

func (e *testEnv) createContent(t *testing.T, title string, blocks ...revision.Block) Content {
	t.Helper()
	content, err := e.svc.CreateContent(e.ctx, CreateContentInput{Title: title, AuthorID: e.author.ID, Blocks: blocks})
	require.NoError(t, err)
	return content
}

func paragraph(position int, text string) revision.Block {
	return revision.Block{BlockType: "paragraph", Position: position, Content: map[string]any{"text": text}}
}

func errorCode(err error) string {
	_, code, _, _ := mapError(err)
	return code
}

func TestBootstrapSeedsDefaultWorkflowOnce(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.svc.Bootstrap(env.ctx))
	states, err := env.svc.WorkflowStates(env.ctx)
	require.NoError(t, err)
	require.Len(t, states, len(defaultStates))

	def, ok := workflow.Default(states)
	require.True(t, ok)
	assert.Equal(t, "draft", def.Slug)
}

func TestCreateContentValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateContent(env.ctx, CreateContentInput{Title: "  ", AuthorID: env.author.ID})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))

	_, err = env.svc.CreateContent(env.ctx, CreateContentInput{Title: "Hello"})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))

	_, err = env.svc.CreateContent(env.ctx, CreateContentInput{Title: "Hello", AuthorID: "usr_missing"})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))

	contents, err := env.svc.ListContents(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestCreateContentWritesInitialRevision(t *testing.T) {
	env := newTestEnv(t)

	content := env.createContent(t, "Hello World", paragraph(1, "second"), paragraph(0, "first"))

	assert.Equal(t, "hello-world", content.Slug)
	assert.Equal(t, "draft", content.State)
	assert.Equal(t, env.author.ID, content.AuthorID)
	require.Len(t, content.Blocks, 2)
	assert.Equal(t, 0, content.Blocks[0].Position)
	require.NotNil(t, content.CurrentRevision)
	assert.Equal(t, 1, content.CurrentRevision.RevisionNumber)
	assert.True(t, content.CurrentRevision.IsCurrent)
	assert.Equal(t, "Initial revision", content.CurrentRevision.Message)

	assert.Equal(t, []string{content.ID}, env.search.refreshed)
	require.Len(t, env.archive.snapshots, 1)
	assert.Len(t, env.archive.snapshots[0].Blocks, 2)
}

func TestSaveContentCreatesNewCurrentRevision(t *testing.T) {
	env := newTestEnv(t)
	content := env.createContent(t, "Post", paragraph(0, "one"))

	title := "Post, revised"
	rev, err := env.svc.SaveContent(env.ctx, content.ID, SaveContentInput{
		Title:   &title,
		Blocks:  []revision.Block{paragraph(0, "one"), paragraph(1, "two")},
		Message: "add a paragraph",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rev.RevisionNumber)
	assert.Equal(t, title, rev.Title)
	assert.Equal(t, env.author.ID, rev.CreatedBy)

	revisions, err := env.svc.Revisions(env.ctx, content.ID)
	require.NoError(t, err)
	require.Len(t, revisions, 2)
	current := 0
	for _, r := range revisions {
		if r.IsCurrent {
			current++
			assert.Equal(t, rev.ID, r.ID)
		}
	}
	assert.Equal(t, 1, current)

	blank := " "
	_, err = env.svc.SaveContent(env.ctx, content.ID, SaveContentInput{Title: &blank})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))

	_, err = env.svc.SaveContent(env.ctx, "cnt_missing", SaveContentInput{})
	assert.True(t, graph.IsNotFound(err))
}

func TestRestoreAndCompareRevisions(t *testing.T) {
	env := newTestEnv(t)
	content := env.createContent(t, "Doc", paragraph(0, "alpha"))
	first := content.CurrentRevision

	second, err := env.svc.SaveContent(env.ctx, content.ID, SaveContentInput{
		Blocks: []revision.Block{paragraph(0, "beta"), paragraph(1, "gamma")},
	})
	require.NoError(t, err)

	diff, err := env.svc.CompareRevisions(env.ctx, content.ID, first.ID, second.ID)
	require.NoError(t, err)
	assert.False(t, diff.TitleChanged)
	assert.Len(t, diff.BlocksAdded, 1)
	assert.Len(t, diff.BlocksModified, 1)
	assert.Empty(t, diff.BlocksRemoved)

	restored, err := env.svc.RestoreRevision(env.ctx, content.ID, first.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, restored.RevisionNumber)
	assert.Equal(t, "Restored from revision #1", restored.Message)

	got, err := env.svc.GetContent(env.ctx, content.ID)
	require.NoError(t, err)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, map[string]any{"text": "alpha"}, got.Blocks[0].Content)
	assert.Equal(t, restored.ID, got.CurrentRevision.ID)
	assert.Equal(t, "draft", got.State)
	assert.Len(t, env.archive.snapshots, 3)
}

func TestRevisionSnapshotOfOtherContentIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	a := env.createContent(t, "A", paragraph(0, "a"))
	b := env.createContent(t, "B", paragraph(0, "b"))

	snapshot, err := env.svc.RevisionSnapshot(env.ctx, a.ID, a.CurrentRevision.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Blocks, 1)

	_, err = env.svc.RevisionSnapshot(env.ctx, a.ID, b.CurrentRevision.ID)
	assert.Equal(t, "NOT_FOUND", errorCode(err))

	_, err = env.svc.RestoreRevision(env.ctx, a.ID, b.CurrentRevision.ID, "")
	assert.Equal(t, "NOT_FOUND", errorCode(err))
}

func TestUnknownAuthorRejectedBeforeAnyWrite(t *testing.T) {
	env := newTestEnv(t)
	content := env.createContent(t, "First", paragraph(0, "one"))
	first := content.CurrentRevision
	title := "Second"
	second, err := env.svc.SaveContent(env.ctx, content.ID, SaveContentInput{
		Title:  &title,
		Blocks: []revision.Block{paragraph(0, "one"), paragraph(1, "two")},
	})
	require.NoError(t, err)

	before, err := env.svc.GetContent(env.ctx, content.ID)
	require.NoError(t, err)

	_, err = env.svc.RestoreRevision(env.ctx, content.ID, first.ID, "usr_missing")
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))

	changed := "Third"
	_, err = env.svc.SaveContent(env.ctx, content.ID, SaveContentInput{
		Title:    &changed,
		Blocks:   []revision.Block{paragraph(0, "replaced")},
		AuthorID: "usr_missing",
	})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))

	after, err := env.svc.GetContent(env.ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", after.Title)
	assert.Equal(t, before.Blocks, after.Blocks)
	assert.Equal(t, second.ID, after.CurrentRevision.ID)
}

func TestRestoreSystemContentIsRejected(t *testing.T) {
	env := newTestEnv(t)
	content, err := env.svc.CreateContent(env.ctx, CreateContentInput{Title: "Footer", AuthorID: env.author.ID, IsSystem: true})
	require.NoError(t, err)

	_, err = env.svc.RestoreRevision(env.ctx, content.ID, content.CurrentRevision.ID, "")
	assert.Equal(t, "PERMISSION_DENIED", errorCode(err))
}

func TestSideEffectFailuresDoNotFailWrites(t *testing.T) {
	env := newTestEnv(t)
	env.archive.archiveFn = func(context.Context, revision.Snapshot) (string, error) {
		return "", errors.New("bucket unavailable")
	}

	content := env.createContent(t, "Resilient", paragraph(0, "x"))
	assert.NotEmpty(t, content.ID)
	assert.Len(t, env.archive.snapshots, 1)
}

func TestTransitionState(t *testing.T) {
	env := newTestEnv(t)
	content := env.createContent(t, "Flow")

	_, err := env.svc.TransitionState(env.ctx, content.ID, "published")
	var transitionErr *workflow.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "draft", transitionErr.From)
	assert.Equal(t, "TRANSITION_NOT_ALLOWED", errorCode(err))

	state, err := env.svc.TransitionState(env.ctx, content.ID, "review")
	require.NoError(t, err)
	assert.Equal(t, "review", state.Slug)

	edges, err := env.store.GetRelationships(env.ctx, graph.Ref{Kind: graph.KindContent, ID: content.ID}, graph.RelHasState, graph.Outgoing, graph.KindWorkflowState)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, state.ID, edges[0].Target.ID)

	rules, err := env.svc.TransitionRules(env.ctx, content.ID)
	require.NoError(t, err)
	slugs := make([]string, 0, len(rules))
	for _, rule := range rules {
		slugs = append(slugs, rule.TargetSlug)
	}
	assert.ElementsMatch(t, []string{"draft", "published"}, slugs)

	_, err = env.svc.TransitionState(env.ctx, content.ID, "nowhere")
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, workflow.ReasonStateNotFound, transitionErr.Reason)

	_, err = env.svc.TransitionState(env.ctx, "cnt_missing", "draft")
	assert.True(t, graph.IsNotFound(err))
}

func TestContentWithoutStateMayEnterAnyState(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	svc := New(config.Config{}, store, zerolog.Nop())
	author, err := svc.CreateUser(ctx, "Ada", "")
	require.NoError(t, err)

	content, err := svc.CreateContent(ctx, CreateContentInput{Title: "Orphan", AuthorID: author.ID})
	require.NoError(t, err)
	assert.Empty(t, content.State)

	require.NoError(t, svc.Bootstrap(ctx))
	rules, err := svc.TransitionRules(ctx, content.ID)
	require.NoError(t, err)
	assert.Len(t, rules, len(defaultStates))

	state, err := svc.TransitionState(ctx, content.ID, "published")
	require.NoError(t, err)
	assert.Equal(t, "published", state.Slug)

	_, err = svc.TransitionState(ctx, content.ID, "review")
	assert.Equal(t, "TRANSITION_NOT_ALLOWED", errorCode(err))
}

func TestCurrentStateWithCorruptDuplicateEdges(t *testing.T) {
	env := newTestEnv(t)
	content := env.createContent(t, "Twice")
	states, err := env.svc.WorkflowStates(env.ctx)
	require.NoError(t, err)
	review, ok := findState("review", states)
	require.True(t, ok)
	require.NoError(t, env.store.CreateRelationship(env.ctx, graph.Ref{Kind: graph.KindContent, ID: content.ID}, graph.RelHasState, graph.Ref{Kind: graph.KindWorkflowState, ID: review.ID}, nil))

	_, err = env.svc.TransitionState(env.ctx, content.ID, "review")
	require.NoError(t, err)

	edges, err := env.store.GetRelationships(env.ctx, graph.Ref{Kind: graph.KindContent, ID: content.ID}, graph.RelHasState, graph.Outgoing, "")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestWorkflowStatesReadThroughCache(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	cache := &fakeStateCache{}
	svc := New(config.Config{}, store, zerolog.Nop()).WithStateCache(cache)
	require.NoError(t, svc.Bootstrap(ctx))
	assert.Equal(t, len(defaultStates), cache.invalidated)

	states, err := svc.WorkflowStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, len(defaultStates))
	require.Len(t, cache.saved, 1)

	cached := []workflow.State{{ID: "wfs_cached", Slug: "cached", Name: "Cached"}}
	cache.statesFn = func(context.Context) ([]workflow.State, bool, error) {
		return cached, true, nil
	}
	states, err = svc.WorkflowStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, cached, states)

	cache.statesFn = func(context.Context) ([]workflow.State, bool, error) {
		return nil, false, errors.New("redis down")
	}
	cache.saveStatesFn = func(context.Context, []workflow.State) error {
		return errors.New("redis down")
	}
	states, err = svc.WorkflowStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, len(defaultStates))
}

func TestCreateWorkflowState(t *testing.T) {
	env := newTestEnv(t)

	state, err := env.svc.CreateWorkflowState(env.ctx, workflow.State{Slug: "Scheduled", AllowedTransitions: []string{"published"}})
	require.NoError(t, err)
	assert.Equal(t, "scheduled", state.Slug)
	assert.Equal(t, "Scheduled", state.Name)
	assert.NotEmpty(t, state.ID)

	_, err = env.svc.CreateWorkflowState(env.ctx, workflow.State{Slug: "scheduled"})
	assert.Equal(t, "STATE_EXISTS", errorCode(err))

	_, err = env.svc.CreateWorkflowState(env.ctx, workflow.State{Slug: "!!"})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))
}

func TestTreeOperations(t *testing.T) {
	env := newTestEnv(t)

	root, err := env.svc.CreateNode(env.ctx, "category", CreateNodeInput{Name: "News"})
	require.NoError(t, err)
	assert.Equal(t, "news", root.Slug)
	child, err := env.svc.CreateNode(env.ctx, "category", CreateNodeInput{Name: "Local", ParentID: &root.ID})
	require.NoError(t, err)
	leaf, err := env.svc.CreateNode(env.ctx, "category", CreateNodeInput{Name: "Weather", ParentID: &child.ID})
	require.NoError(t, err)

	roots, err := env.svc.Tree(env.ctx, "category")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "News", roots[0].Name)
	require.Len(t, roots[0].Children, 1)
	require.Len(t, roots[0].Children[0].Children, 1)
	assert.Equal(t, 2, roots[0].Children[0].Children[0].Depth)

	ancestors, err := env.svc.Ancestors(env.ctx, "category", leaf.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, child.ID, ancestors[0].ID)
	assert.Equal(t, root.ID, ancestors[1].ID)

	children, err := env.svc.Children(env.ctx, "category", root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	err = env.svc.SetParent(env.ctx, "category", root.ID, &leaf.ID)
	var cycle *tree.CycleError
	assert.ErrorAs(t, err, &cycle)
	assert.Equal(t, "CYCLE_DETECTED", errorCode(err))

	err = env.svc.DeleteNode(env.ctx, "category", root.ID)
	assert.Equal(t, "HAS_CHILDREN", errorCode(err))

	require.NoError(t, env.svc.DeleteNode(env.ctx, "category", leaf.ID))
	_, err = env.svc.Ancestors(env.ctx, "category", leaf.ID)
	assert.True(t, graph.IsNotFound(err))

	_, err = env.svc.Tree(env.ctx, "tag")
	assert.Equal(t, "NOT_FOUND", errorCode(err))

	_, err = env.svc.CreateNode(env.ctx, "category", CreateNodeInput{Name: "Orphan", ParentID: ptr("cat_missing")})
	assert.True(t, graph.IsNotFound(err))
}

func TestPagesAreTitled(t *testing.T) {
	env := newTestEnv(t)

	page, err := env.svc.CreateNode(env.ctx, "page", CreateNodeInput{Name: "About us"})
	require.NoError(t, err)

	entity, err := env.store.Get(env.ctx, graph.KindPage, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "About us", entity.String("title"))
	assert.Equal(t, "about-us", entity.String("slug"))
}

func TestReorderReparentsFromStoredTree(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.svc.CreateNode(env.ctx, "category", CreateNodeInput{Name: "A"})
	require.NoError(t, err)
	b, err := env.svc.CreateNode(env.ctx, "category", CreateNodeInput{Name: "B", ParentID: &a.ID})
	require.NoError(t, err)
	c, err := env.svc.CreateNode(env.ctx, "category", CreateNodeInput{Name: "C"})
	require.NoError(t, err)

	// rendered as A(0) B(1) C(0); dropping C onto B places it under A
	parentID, err := env.svc.Reorder(env.ctx, "category", ReorderInput{MovedID: c.ID, TargetID: b.ID})
	require.NoError(t, err)
	require.NotNil(t, parentID)
	assert.Equal(t, a.ID, *parentID)

	children, err := env.svc.Children(env.ctx, "category", a.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	// dropping onto a root moves to the root
	parentID, err = env.svc.Reorder(env.ctx, "category", ReorderInput{MovedID: b.ID, TargetID: a.ID})
	require.NoError(t, err)
	assert.Nil(t, parentID)

	_, err = env.svc.Reorder(env.ctx, "category", ReorderInput{MovedID: b.ID})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(err))
}

func TestSearchWithoutIndex(t *testing.T) {
	svc := New(config.Config{}, graph.NewMemoryStore(), zerolog.Nop())
	resp := svc.Search(context.Background(), search.Query{Text: "hello"})
	assert.Empty(t, resp.Results)
	assert.Equal(t, "hello", resp.Query)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", graph.NotFound(graph.KindContent, "cnt_1"), 404, "NOT_FOUND"},
		{"validation", &revision.ValidationError{Field: "authorId", Reason: "missing"}, 422, "VALIDATION_ERROR"},
		{"permission", &revision.PermissionError{Kind: graph.KindContent, ID: "cnt_1", Operation: "restore"}, 403, "PERMISSION_DENIED"},
		{"cycle", &tree.CycleError{Kind: graph.KindCategory, ID: "a", ParentID: "b"}, 409, "CYCLE_DETECTED"},
		{"has children", &tree.HasChildrenError{Kind: graph.KindCategory, ID: "a", Children: []string{"b"}}, 409, "HAS_CHILDREN"},
		{"transition", &workflow.TransitionError{From: "draft", To: "published", Reason: "no"}, 409, "TRANSITION_NOT_ALLOWED"},
		{"wrapped", errors.Join(errors.New("ctx"), graph.NotFound(graph.KindUser, "u")), 404, "NOT_FOUND"},
		{"unknown", errors.New("boom"), 500, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func ptr(s string) *string {
	return &s
}
