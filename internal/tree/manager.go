// Package tree maintains single-parent hierarchies (categories, pages) over
// PARENT edges in the graph store. The store cannot enforce acyclicity, so
// writes check for cycles first and reads stop at the first repeated node.
package tree

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

const (
	DefaultMaxDepth = 64
	loadConcurrency = 8
)

// Manager runs tree operations for one entity kind.
type Manager struct {
	store    graph.Store
	kind     graph.Kind
	log      zerolog.Logger
	maxDepth int
}

func NewManager(store graph.Store, kind graph.Kind, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		kind:     kind,
		log:      log.With().Str("component", "tree").Str("kind", string(kind)).Logger(),
		maxDepth: DefaultMaxDepth,
	}
}

// WithMaxDepth bounds ancestor walks; values below 1 keep the default.
func (m *Manager) WithMaxDepth(depth int) *Manager {
	if depth > 0 {
		m.maxDepth = depth
	}
	return m
}

func (m *Manager) Kind() graph.Kind {
	return m.kind
}

// Parent returns nil for a root. With corrupt data carrying several PARENT
// edges the first one wins.
func (m *Manager) Parent(ctx context.Context, id string) (*graph.Entity, error) {
	parents, err := m.parents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return nil, nil
	}
	if len(parents) > 1 {
		m.log.Warn().Str("id", id).Int("parents", len(parents)).Msg("node has several parent edges")
	}
	parent := parents[0]
	return &parent, nil
}

func (m *Manager) Children(ctx context.Context, id string) ([]graph.Entity, error) {
	related, err := m.store.GetRelationships(ctx, m.ref(id), graph.RelParent, graph.Incoming, m.kind)
	if err != nil {
		return nil, fmt.Errorf("list children of %s %s: %w", m.kind, id, err)
	}
	children := make([]graph.Entity, 0, len(related))
	seen := make(map[string]struct{}, len(related))
	for _, rel := range related {
		if _, dup := seen[rel.Target.ID]; dup {
			continue
		}
		seen[rel.Target.ID] = struct{}{}
		children = append(children, rel.Target)
	}
	return children, nil
}

// Ancestors walks PARENT edges closest first. The walk ends at a root, at the
// first node already visited, or after the configured max depth.
func (m *Manager) Ancestors(ctx context.Context, id string) ([]graph.Entity, error) {
	visited := map[string]struct{}{id: {}}
	ancestors := make([]graph.Entity, 0)
	current := id
	for depth := 0; depth < m.maxDepth; depth++ {
		parent, err := m.Parent(ctx, current)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return ancestors, nil
		}
		if _, loop := visited[parent.ID]; loop {
			m.log.Warn().Str("id", id).Str("repeat", parent.ID).Msg("cycle in stored hierarchy")
			return ancestors, nil
		}
		visited[parent.ID] = struct{}{}
		ancestors = append(ancestors, *parent)
		current = parent.ID
	}
	m.log.Warn().Str("id", id).Int("max_depth", m.maxDepth).Msg("ancestor walk truncated")
	return ancestors, nil
}

// Descendants returns every node below id in breadth-first order.
func (m *Manager) Descendants(ctx context.Context, id string) ([]graph.Entity, error) {
	visited := map[string]struct{}{id: {}}
	queue := []string{id}
	descendants := make([]graph.Entity, 0)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := m.Children(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, ok := visited[child.ID]; ok {
				continue
			}
			visited[child.ID] = struct{}{}
			descendants = append(descendants, child)
			queue = append(queue, child.ID)
		}
	}
	return descendants, nil
}

// SetParent moves id under newParentID, or to the root when newParentID is
// nil. Existing PARENT edges are removed before the new one is created, so a
// failure in between leaves the node as a root rather than double-parented.
// Re-running after such a failure completes the move.
func (m *Manager) SetParent(ctx context.Context, id string, newParentID *string) error {
	if newParentID != nil && *newParentID == id {
		return &CycleError{Kind: m.kind, ID: id, ParentID: id}
	}

	var current []graph.Entity
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := m.store.Get(gctx, m.kind, id)
		return err
	})
	if newParentID != nil {
		g.Go(func() error {
			_, err := m.store.Get(gctx, m.kind, *newParentID)
			return err
		})
	}
	g.Go(func() error {
		parents, err := m.parents(gctx, id)
		current = parents
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if newParentID != nil {
		descendants, err := m.Descendants(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range descendants {
			if d.ID == *newParentID {
				return &CycleError{Kind: m.kind, ID: id, ParentID: *newParentID}
			}
		}
	}

	if unchanged(current, newParentID) {
		return nil
	}

	for _, parent := range current {
		if err := m.store.DeleteRelationship(ctx, m.ref(id), graph.RelParent, parent.Ref()); err != nil {
			return fmt.Errorf("detach %s %s from %s: %w", m.kind, id, parent.ID, err)
		}
	}
	if newParentID == nil {
		return nil
	}
	if err := m.store.CreateRelationship(ctx, m.ref(id), graph.RelParent, m.ref(*newParentID), nil); err != nil {
		return fmt.Errorf("attach %s %s to %s: %w", m.kind, id, *newParentID, err)
	}
	return nil
}

// Delete removes a leaf node. Nodes with children are refused.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.store.Get(ctx, m.kind, id); err != nil {
		return err
	}
	children, err := m.Children(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		ids := make([]string, 0, len(children))
		for _, child := range children {
			ids = append(ids, child.ID)
		}
		return &HasChildrenError{Kind: m.kind, ID: id, Children: ids}
	}

	parents, err := m.parents(ctx, id)
	if err != nil {
		return err
	}
	for _, parent := range parents {
		if err := m.store.DeleteRelationship(ctx, m.ref(id), graph.RelParent, parent.Ref()); err != nil {
			return fmt.Errorf("detach %s %s from %s: %w", m.kind, id, parent.ID, err)
		}
	}
	if err := m.store.Delete(ctx, m.kind, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", m.kind, id, err)
	}
	return nil
}

// Load lists every node of the kind with its parent id, ready for BuildTree.
func (m *Manager) Load(ctx context.Context) ([]FlatNode, error) {
	entities, err := m.store.List(ctx, m.kind, graph.ListOptions{OrderBy: "createdAt", Order: graph.OrderAsc})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.kind, err)
	}

	nodes := make([]FlatNode, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, entity := range entities {
		g.Go(func() error {
			parents, err := m.parents(gctx, entity.ID)
			if err != nil {
				return err
			}
			nodes[i] = FlatNode{ID: entity.ID, Entity: entity}
			if len(parents) > 0 {
				parentID := parents[0].ID
				nodes[i].ParentID = &parentID
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (m *Manager) parents(ctx context.Context, id string) ([]graph.Entity, error) {
	related, err := m.store.GetRelationships(ctx, m.ref(id), graph.RelParent, graph.Outgoing, m.kind)
	if err != nil {
		return nil, fmt.Errorf("read parent of %s %s: %w", m.kind, id, err)
	}
	parents := make([]graph.Entity, 0, len(related))
	seen := make(map[string]struct{}, len(related))
	for _, rel := range related {
		if _, dup := seen[rel.Target.ID]; dup {
			continue
		}
		seen[rel.Target.ID] = struct{}{}
		parents = append(parents, rel.Target)
	}
	return parents, nil
}

func (m *Manager) ref(id string) graph.Ref {
	return graph.Ref{Kind: m.kind, ID: id}
}

func unchanged(current []graph.Entity, target *string) bool {
	if target == nil {
		return len(current) == 0
	}
	return len(current) == 1 && current[0].ID == *target
}
