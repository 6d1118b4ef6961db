package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/revision"
)

// GraphScan searches by scanning content titles in the graph store.
// It is the fallback when Meilisearch is missing or unhealthy.
type GraphScan struct {
	store     graph.Store
	revisions *revision.Engine
}

func NewGraphScan(store graph.Store, revisions *revision.Engine) *GraphScan {
	return &GraphScan{store: store, revisions: revisions}
}

// Healthy always returns true: without the graph store nothing works anyway.
func (g *GraphScan) Healthy() bool {
	return true
}

func (g *GraphScan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	contents, err := g.store.List(ctx, graph.KindContent, graph.ListOptions{OrderBy: "updatedAt", Order: graph.OrderDesc})
	if err != nil {
		return nil, 0, fmt.Errorf("scan contents: %w", err)
	}

	matched := make([]Result, 0)
	for _, content := range contents {
		title := content.String("title")
		slug := content.String("slug")
		if !strings.Contains(strings.ToLower(title), text) && !strings.Contains(strings.ToLower(slug), text) {
			continue
		}
		if q.State != "" {
			state, err := g.stateSlug(ctx, content.ID)
			if err != nil {
				return nil, 0, err
			}
			if state != q.State {
				continue
			}
		}
		matched = append(matched, Result{ID: content.ID, Title: title, Slug: slug})
	}

	total := len(matched)
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// LoadAllRecords builds index records for every content, used to seed an
// empty Meilisearch index.
func (g *GraphScan) LoadAllRecords(ctx context.Context) ([]ContentRecord, error) {
	contents, err := g.store.List(ctx, graph.KindContent, graph.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	records := make([]ContentRecord, 0, len(contents))
	for _, content := range contents {
		record, err := g.record(ctx, content)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Record builds the index record of one content from its live blocks.
func (g *GraphScan) Record(ctx context.Context, contentID string) (ContentRecord, error) {
	content, err := g.store.Get(ctx, graph.KindContent, contentID)
	if err != nil {
		return ContentRecord{}, err
	}
	return g.record(ctx, content)
}

func (g *GraphScan) record(ctx context.Context, content graph.Entity) (ContentRecord, error) {
	blocks, err := g.revisions.LiveBlocks(ctx, content.ID)
	if err != nil {
		return ContentRecord{}, err
	}
	state, err := g.stateSlug(ctx, content.ID)
	if err != nil {
		return ContentRecord{}, err
	}
	record := ContentRecord{
		ID:    content.ID,
		Title: content.String("title"),
		Slug:  content.String("slug"),
		Body:  BodyText(blocks),
		State: state,
	}
	if current, err := g.revisions.CurrentRevision(ctx, content.ID); err == nil {
		record.RevisionNumber = current.RevisionNumber
	} else if !graph.IsNotFound(err) {
		return ContentRecord{}, err
	}
	return record, nil
}

func (g *GraphScan) stateSlug(ctx context.Context, contentID string) (string, error) {
	related, err := g.store.GetRelationships(ctx, graph.Ref{Kind: graph.KindContent, ID: contentID}, graph.RelHasState, graph.Outgoing, graph.KindWorkflowState)
	if err != nil {
		return "", fmt.Errorf("read state of %s: %w", contentID, err)
	}
	if len(related) == 0 {
		return "", nil
	}
	return related[0].Target.String("slug"), nil
}

// BodyText flattens the string leaves of block payloads into indexable text,
// one block per line.
func BodyText(blocks []revision.Block) string {
	lines := make([]string, 0, len(blocks))
	for _, block := range blocks {
		var parts []string
		collectText(block.Content, &parts)
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, " "))
		}
	}
	return strings.Join(lines, "\n")
}

func collectText(value any, out *[]string) {
	switch v := value.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			*out = append(*out, s)
		}
	case []any:
		for _, item := range v {
			collectText(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(v[k], out)
		}
	}
}
