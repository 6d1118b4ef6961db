package app

import (
	"context"
	"strings"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/tree"
)

type Node struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Slug     string  `json:"slug"`
	ParentID *string `json:"parentId,omitempty"`
}

type NodeView struct {
	Node
	Depth    int        `json:"depth"`
	Children []NodeView `json:"children"`
}

type CreateNodeInput struct {
	Name     string  `json:"name"`
	Slug     string  `json:"slug"`
	ParentID *string `json:"parentId"`
}

type ReorderInput struct {
	MovedID  string          `json:"movedId"`
	TargetID string          `json:"targetId"`
	Items    []tree.FlatItem `json:"items"`
}

func (s *Service) manager(kind string) (*tree.Manager, error) {
	m, ok := s.trees[kind]
	if !ok {
		return nil, notFoundKind(kind)
	}
	return m, nil
}

// labelField is the field that carries a node's display name: pages are titled,
// categories are named.
func labelField(kind graph.Kind) string {
	if kind == graph.KindPage {
		return "title"
	}
	return "name"
}

func nodeFromEntity(entity graph.Entity, parentID *string) Node {
	return Node{
		ID:       entity.ID,
		Name:     entity.String(labelField(entity.Kind)),
		Slug:     entity.String("slug"),
		ParentID: parentID,
	}
}

// CreateNode creates the node and then attaches it. When attaching fails the
// node is left as a root and the error is returned.
func (s *Service) CreateNode(ctx context.Context, kind string, input CreateNodeInput) (Node, error) {
	m, err := s.manager(kind)
	if err != nil {
		return Node{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Node{}, validationError("name is required")
	}
	slug := slugify(input.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	if input.ParentID != nil {
		if _, err := s.store.Get(ctx, m.Kind(), *input.ParentID); err != nil {
			return Node{}, err
		}
	}

	entity, err := s.store.Create(ctx, m.Kind(), graph.Fields{
		labelField(m.Kind()): name,
		"slug":               slug,
	})
	if err != nil {
		return Node{}, err
	}
	if input.ParentID != nil {
		if err := m.SetParent(ctx, entity.ID, input.ParentID); err != nil {
			return Node{}, err
		}
	}
	s.log.Info().Str("kind", kind).Str("id", entity.ID).Msg("node created")
	return nodeFromEntity(entity, input.ParentID), nil
}

func (s *Service) Tree(ctx context.Context, kind string) ([]NodeView, error) {
	m, err := s.manager(kind)
	if err != nil {
		return nil, err
	}
	nodes, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	return nodeViews(tree.BuildTree(nodes)), nil
}

func nodeViews(nodes []*tree.TreeNode) []NodeView {
	out := make([]NodeView, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, NodeView{
			Node:     nodeFromEntity(node.Entity, node.ParentID),
			Depth:    node.Depth,
			Children: nodeViews(node.Children),
		})
	}
	return out
}

// Ancestors lists the chain from the parent up to the root.
func (s *Service) Ancestors(ctx context.Context, kind, id string) ([]Node, error) {
	m, err := s.manager(kind)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, m.Kind(), id); err != nil {
		return nil, err
	}
	ancestors, err := m.Ancestors(ctx, id)
	if err != nil {
		return nil, err
	}
	return nodeChain(ancestors), nil
}

func (s *Service) Children(ctx context.Context, kind, id string) ([]Node, error) {
	m, err := s.manager(kind)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, m.Kind(), id); err != nil {
		return nil, err
	}
	children, err := m.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(children))
	for _, child := range children {
		parentID := id
		out = append(out, nodeFromEntity(child, &parentID))
	}
	return out, nil
}

func (s *Service) SetParent(ctx context.Context, kind, id string, parentID *string) error {
	m, err := s.manager(kind)
	if err != nil {
		return err
	}
	if err := m.SetParent(ctx, id, parentID); err != nil {
		return err
	}
	s.log.Info().Str("kind", kind).Str("id", id).Interface("parent_id", parentID).Msg("node moved")
	return nil
}

// Reorder applies a drag-and-drop. Without a client supplied rendering the
// stored tree is flattened and used instead. The inferred parent is returned.
func (s *Service) Reorder(ctx context.Context, kind string, input ReorderInput) (*string, error) {
	m, err := s.manager(kind)
	if err != nil {
		return nil, err
	}
	if input.MovedID == "" || input.TargetID == "" {
		return nil, validationError("movedId and targetId are required")
	}
	items := input.Items
	if len(items) == 0 {
		loaded, err := m.Load(ctx)
		if err != nil {
			return nil, err
		}
		items = tree.Flatten(tree.BuildTree(loaded))
	}
	parentID, err := m.InferReparentFromReorder(items, input.MovedID, input.TargetID)
	if err != nil {
		return nil, err
	}
	if err := s.SetParent(ctx, kind, input.MovedID, parentID); err != nil {
		return nil, err
	}
	return parentID, nil
}

func (s *Service) DeleteNode(ctx context.Context, kind, id string) error {
	m, err := s.manager(kind)
	if err != nil {
		return err
	}
	if err := m.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("kind", kind).Str("id", id).Msg("node deleted")
	return nil
}

func nodeChain(entities []graph.Entity) []Node {
	out := make([]Node, 0, len(entities))
	for i, entity := range entities {
		var parentID *string
		if i+1 < len(entities) {
			id := entities[i+1].ID
			parentID = &id
		}
		out = append(out, nodeFromEntity(entity, parentID))
	}
	return out
}
