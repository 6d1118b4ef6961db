package graph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreEntityCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.Create(ctx, KindContent, Fields{"title": "Hello", "isSystem": false})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, KindContent, created.Kind)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.Get(ctx, KindContent, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.String("title"))

	patched, err := store.Patch(ctx, KindContent, created.ID, Fields{"title": "Changed"})
	require.NoError(t, err)
	assert.Equal(t, "Changed", patched.String("title"))
	assert.True(t, patched.UpdatedAt.After(created.UpdatedAt))

	require.NoError(t, store.Delete(ctx, KindContent, created.ID))
	_, err = store.Get(ctx, KindContent, created.ID)
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, KindContent, notFound.Kind)
	assert.True(t, IsNotFound(err))

	assert.True(t, IsNotFound(store.Delete(ctx, KindContent, created.ID)))
	_, err = store.Patch(ctx, KindContent, created.ID, Fields{})
	assert.True(t, IsNotFound(err))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	fields := Fields{"title": "original"}
	created, err := store.Create(ctx, KindContent, fields)
	require.NoError(t, err)
	fields["title"] = "mutated by caller"
	created.Fields["title"] = "mutated copy"

	got, err := store.Get(ctx, KindContent, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.String("title"))
}

func TestMemoryStoreListOrderingAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, n := range []int{3, 1, 2} {
		_, err := store.Create(ctx, KindRevision, Fields{"revisionNumber": n, "contentId": "c1"})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, KindRevision, Fields{"revisionNumber": 9, "contentId": "c2"})
	require.NoError(t, err)

	asc, err := store.List(ctx, KindRevision, ListOptions{OrderBy: "revisionNumber", Order: OrderAsc})
	require.NoError(t, err)
	require.Len(t, asc, 4)
	assert.Equal(t, []int{1, 2, 3, 9}, numbers(asc))

	desc, err := store.List(ctx, KindRevision, ListOptions{OrderBy: "revisionNumber", Order: OrderDesc})
	require.NoError(t, err)
	assert.Equal(t, []int{9, 3, 2, 1}, numbers(desc))

	insertion, err := store.List(ctx, KindRevision, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2, 9}, numbers(insertion))

	matched, err := store.Query(ctx, KindRevision, Fields{"contentId": "c1", "revisionNumber": float64(2)})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, 2, matched[0].Int("revisionNumber"))
}

func TestMemoryStoreRelationships(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	parent, err := store.Create(ctx, KindCategory, Fields{"name": "parent"})
	require.NoError(t, err)
	child, err := store.Create(ctx, KindCategory, Fields{"name": "child"})
	require.NoError(t, err)

	require.NoError(t, store.CreateRelationship(ctx, child.Ref(), RelParent, parent.Ref(), Fields{"since": "now"}))

	out, err := store.GetRelationships(ctx, child.Ref(), RelParent, Outgoing, KindCategory)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, parent.ID, out[0].Target.ID)
	assert.Equal(t, "now", out[0].Properties.String("since"))

	in, err := store.GetRelationships(ctx, parent.Ref(), RelParent, Incoming, KindCategory)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, child.ID, in[0].Target.ID)

	otherKind, err := store.GetRelationships(ctx, child.Ref(), RelParent, Outgoing, KindPage)
	require.NoError(t, err)
	assert.Empty(t, otherKind)

	err = store.CreateRelationship(ctx, child.Ref(), RelParent, Ref{Kind: KindCategory, ID: "missing"}, nil)
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.DeleteRelationship(ctx, child.Ref(), RelParent, parent.Ref()))
	out, err = store.GetRelationships(ctx, child.Ref(), RelParent, Outgoing, KindCategory)
	require.NoError(t, err)
	assert.Empty(t, out)

	// deleting an absent edge is a no-op
	require.NoError(t, store.DeleteRelationship(ctx, child.Ref(), RelParent, parent.Ref()))
}

func TestMemoryStoreDeleteCascadesEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	content, err := store.Create(ctx, KindContent, Fields{})
	require.NoError(t, err)
	block, err := store.Create(ctx, KindContentBlock, Fields{"position": 0})
	require.NoError(t, err)
	require.NoError(t, store.CreateRelationship(ctx, content.Ref(), RelHasBlock, block.Ref(), nil))

	require.NoError(t, store.Delete(ctx, KindContentBlock, block.ID))

	related, err := store.GetRelationships(ctx, content.Ref(), RelHasBlock, Outgoing, KindContentBlock)
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestMemoryStoreTimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return frozen })

	a, err := store.Create(ctx, KindRevision, Fields{})
	require.NoError(t, err)
	b, err := store.Create(ctx, KindRevision, Fields{})
	require.NoError(t, err)
	assert.True(t, b.CreatedAt.After(a.CreatedAt))
}

func TestMemoryStoreHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Create(ctx, KindContent, Fields{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFieldAccessors(t *testing.T) {
	fields := Fields{
		"int":       int64(4),
		"float":     float64(2),
		"number":    json.Number("7"),
		"text":      "hello",
		"flag":      true,
		"flagText":  "true",
		"list":      []any{"a", 1, "b"},
		"jsonList":  `["x","y"]`,
		"plainList": []string{"p"},
	}

	assert.Equal(t, 4, fields.Int("int"))
	assert.Equal(t, 2, fields.Int("float"))
	assert.Equal(t, 7, fields.Int("number"))
	assert.Equal(t, 0, fields.Int("missing"))
	assert.Equal(t, "hello", fields.String("text"))
	assert.Equal(t, "", fields.String("missing"))
	assert.True(t, fields.Bool("flag"))
	assert.True(t, fields.Bool("flagText"))
	assert.False(t, fields.Bool("missing"))
	assert.Equal(t, []string{"a", "b"}, fields.Strings("list"))
	assert.Equal(t, []string{"x", "y"}, fields.Strings("jsonList"))
	assert.Equal(t, []string{"p"}, fields.Strings("plainList"))
	assert.Nil(t, fields.Strings("missing"))
}

func TestCanonicalJSONAndValuesEqual(t *testing.T) {
	decoded := map[string]any{"b": float64(1), "a": "x"}
	raw := json.RawMessage(`{"a":"x",  "b":1}`)
	assert.Equal(t, string(CanonicalJSON(decoded)), string(CanonicalJSON(raw)))

	assert.True(t, ValuesEqual(int64(3), float64(3)))
	assert.True(t, ValuesEqual("a", "a"))
	assert.False(t, ValuesEqual("1", 1))
	assert.True(t, ValuesEqual(map[string]any{"k": 1}, map[string]any{"k": float64(1)}))
	assert.False(t, ValuesEqual([]any{1, 2}, []any{2, 1}))
}

func numbers(entities []Entity) []int {
	out := make([]int, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Int("revisionNumber"))
	}
	return out
}
