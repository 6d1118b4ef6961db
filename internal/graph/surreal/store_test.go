package surreal

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/config"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph/graphtest"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/util"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC)

	got, err := parseTime("2026-03-01T10:30:00.123456789Z")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = parseTime("d'2026-03-01T10:30:00.123456789Z'")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = parseTime("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"content": map[any]any{"text": "hi", "marks": []any{map[any]any{"type": "bold"}}},
		"level":   uint64(2),
	}
	out := normalizeFields(in)

	content, ok := out["content"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", content["text"])
	marks := content["marks"].([]any)
	assert.Equal(t, map[string]any{"type": "bold"}, marks[0])
	assert.Equal(t, 2, out.Int("level"))
}

func TestFieldNameGuard(t *testing.T) {
	assert.True(t, fieldName.MatchString("revisionNumber"))
	assert.True(t, fieldName.MatchString("is_current"))
	assert.False(t, fieldName.MatchString("title; DELETE Content"))
	assert.False(t, fieldName.MatchString("a.b"))
	assert.False(t, fieldName.MatchString(""))
}

func TestSurrealStoreSuite(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("TEST_SURREALDB_URL"))
	if url == "" {
		t.Skip("TEST_SURREALDB_URL is not set")
	}

	graphtest.RunStoreSuite(t, func(t *testing.T) graph.Store {
		ctx := context.Background()
		store, err := Open(ctx, config.SurrealConfig{
			URL:       url,
			Namespace: "cms_test",
			Database:  util.NewID("t"),
			Username:  "root",
			Password:  "root",
		}, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}
