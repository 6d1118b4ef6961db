package graphtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

// RunStoreSuite checks the behaviour every graph.Store backend must share.
// newStore is called once per subtest and must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) graph.Store) {
	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		created, err := store.Create(ctx, graph.KindContent, graph.Fields{"title": "Hello", "isSystem": true})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, graph.KindContent, created.Kind)

		got, err := store.Get(ctx, graph.KindContent, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello", got.String("title"))
		assert.True(t, got.Bool("isSystem"))
		assert.False(t, got.CreatedAt.IsZero())

		_, err = store.Get(ctx, graph.KindContent, "missing")
		assert.True(t, graph.IsNotFound(err))
		_, err = store.Get(ctx, graph.KindPage, created.ID)
		assert.True(t, graph.IsNotFound(err), "get with the wrong kind")
	})

	t.Run("patch merges fields", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		created, err := store.Create(ctx, graph.KindRevision, graph.Fields{"revisionNumber": 1, "isCurrent": true, "title": "t"})
		require.NoError(t, err)
		patched, err := store.Patch(ctx, graph.KindRevision, created.ID, graph.Fields{"isCurrent": false})
		require.NoError(t, err)
		assert.False(t, patched.Bool("isCurrent"))
		assert.Equal(t, 1, patched.Int("revisionNumber"))
		assert.Equal(t, "t", patched.String("title"))

		_, err = store.Patch(ctx, graph.KindRevision, "missing", graph.Fields{"isCurrent": false})
		assert.True(t, graph.IsNotFound(err))
	})

	t.Run("delete cascades edges", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		content, err := store.Create(ctx, graph.KindContent, graph.Fields{"title": "c"})
		require.NoError(t, err)
		block, err := store.Create(ctx, graph.KindContentBlock, graph.Fields{"position": 0, "content": map[string]any{"text": "x"}})
		require.NoError(t, err)
		require.NoError(t, store.CreateRelationship(ctx, content.Ref(), graph.RelHasBlock, block.Ref(), graph.Fields{"position": 0}))

		require.NoError(t, store.Delete(ctx, graph.KindContentBlock, block.ID))
		related, err := store.GetRelationships(ctx, content.Ref(), graph.RelHasBlock, graph.Outgoing, graph.KindContentBlock)
		require.NoError(t, err)
		assert.Empty(t, related)

		assert.True(t, graph.IsNotFound(store.Delete(ctx, graph.KindContentBlock, block.ID)))
	})

	t.Run("list orders by field", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, n := range []int{2, 3, 1} {
			_, err := store.Create(ctx, graph.KindRevision, graph.Fields{"revisionNumber": n})
			require.NoError(t, err)
		}
		desc, err := store.List(ctx, graph.KindRevision, graph.ListOptions{OrderBy: "revisionNumber", Order: graph.OrderDesc})
		require.NoError(t, err)
		require.Len(t, desc, 3)
		assert.Equal(t, []int{3, 2, 1}, []int{desc[0].Int("revisionNumber"), desc[1].Int("revisionNumber"), desc[2].Int("revisionNumber")})

		byCreation, err := store.List(ctx, graph.KindRevision, graph.ListOptions{OrderBy: "createdAt", Order: graph.OrderAsc})
		require.NoError(t, err)
		assert.Equal(t, 2, byCreation[0].Int("revisionNumber"))

		empty, err := store.List(ctx, graph.KindPage, graph.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("query matches scalar fields", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.Create(ctx, graph.KindWorkflowState, graph.Fields{"slug": "draft", "isDefault": true})
		require.NoError(t, err)
		published, err := store.Create(ctx, graph.KindWorkflowState, graph.Fields{"slug": "published", "isDefault": false})
		require.NoError(t, err)

		matched, err := store.Query(ctx, graph.KindWorkflowState, graph.Fields{"slug": "published"})
		require.NoError(t, err)
		require.Len(t, matched, 1)
		assert.Equal(t, published.ID, matched[0].ID)

		matched, err = store.Query(ctx, graph.KindWorkflowState, graph.Fields{"isDefault": true})
		require.NoError(t, err)
		require.Len(t, matched, 1)
		assert.Equal(t, "draft", matched[0].String("slug"))

		matched, err = store.Query(ctx, graph.KindWorkflowState, graph.Fields{"slug": "nope"})
		require.NoError(t, err)
		assert.Empty(t, matched)
	})

	t.Run("relationships both directions", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		parent, err := store.Create(ctx, graph.KindCategory, graph.Fields{"name": "parent"})
		require.NoError(t, err)
		child, err := store.Create(ctx, graph.KindCategory, graph.Fields{"name": "child"})
		require.NoError(t, err)
		user, err := store.Create(ctx, graph.KindUser, graph.Fields{"name": "u"})
		require.NoError(t, err)

		require.NoError(t, store.CreateRelationship(ctx, child.Ref(), graph.RelParent, parent.Ref(), nil))
		require.NoError(t, store.CreateRelationship(ctx, child.Ref(), graph.RelAuthoredBy, user.Ref(), graph.Fields{"role": "PRIMARY"}))

		out, err := store.GetRelationships(ctx, child.Ref(), graph.RelParent, graph.Outgoing, graph.KindCategory)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, parent.ID, out[0].Target.ID)
		assert.Equal(t, "parent", out[0].Target.String("name"))

		in, err := store.GetRelationships(ctx, parent.Ref(), graph.RelParent, graph.Incoming, graph.KindCategory)
		require.NoError(t, err)
		require.Len(t, in, 1)
		assert.Equal(t, child.ID, in[0].Target.ID)

		authors, err := store.GetRelationships(ctx, child.Ref(), graph.RelAuthoredBy, graph.Outgoing, graph.KindUser)
		require.NoError(t, err)
		require.Len(t, authors, 1)
		assert.Equal(t, "PRIMARY", authors[0].Properties.String("role"))

		none, err := store.GetRelationships(ctx, child.Ref(), graph.RelParent, graph.Outgoing, graph.KindPage)
		require.NoError(t, err)
		assert.Empty(t, none)

		err = store.CreateRelationship(ctx, child.Ref(), graph.RelParent, graph.Ref{Kind: graph.KindCategory, ID: "missing"}, nil)
		assert.True(t, graph.IsNotFound(err))

		require.NoError(t, store.DeleteRelationship(ctx, child.Ref(), graph.RelParent, parent.Ref()))
		out, err = store.GetRelationships(ctx, child.Ref(), graph.RelParent, graph.Outgoing, graph.KindCategory)
		require.NoError(t, err)
		assert.Empty(t, out)
		require.NoError(t, store.DeleteRelationship(ctx, child.Ref(), graph.RelParent, parent.Ref()))
	})

	t.Run("json payloads survive", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		payload := map[string]any{"text": "hi", "marks": []any{"bold"}, "level": 2}
		created, err := store.Create(ctx, graph.KindRevisionBlock, graph.Fields{"content": payload, "allowed": []string{"a", "b"}})
		require.NoError(t, err)
		got, err := store.Get(ctx, graph.KindRevisionBlock, created.ID)
		require.NoError(t, err)
		assert.True(t, graph.ValuesEqual(payload, got.Fields["content"]))
		assert.Equal(t, []string{"a", "b"}, got.Strings("allowed"))
	})
}
