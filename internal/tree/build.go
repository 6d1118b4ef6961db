package tree

import (
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

// FlatNode is one stored node with its parent id, as returned by Load.
type FlatNode struct {
	ID       string
	ParentID *string
	Entity   graph.Entity
}

type TreeNode struct {
	ID       string       `json:"id"`
	ParentID *string      `json:"parentId"`
	Depth    int          `json:"depth"`
	Entity   graph.Entity `json:"-"`
	Children []*TreeNode  `json:"children"`
}

// FlatItem is one row of the visible, depth-first rendering of a forest.
type FlatItem struct {
	ID       string  `json:"id"`
	Depth    int     `json:"depth"`
	ParentID *string `json:"parentId"`
}

// BuildTree assembles a forest in one pass over an id index. Nodes without a
// parent, or whose parent is not in the input, become roots. A stored cycle is
// cut loose at the first cycle member reached by walking up from the first
// unvisited node in input order. Children keep input order.
func BuildTree(nodes []FlatNode) []*TreeNode {
	byID := make(map[string]*TreeNode, len(nodes))
	ordered := make([]*TreeNode, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			continue
		}
		node := &TreeNode{ID: n.ID, Entity: n.Entity, Children: []*TreeNode{}}
		if n.ParentID != nil {
			parentID := *n.ParentID
			node.ParentID = &parentID
		}
		byID[n.ID] = node
		ordered = append(ordered, node)
	}

	roots := make([]*TreeNode, 0)
	for _, node := range ordered {
		parent, ok := lookupParent(byID, node)
		if !ok {
			node.ParentID = nil
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	visited := make(map[string]struct{}, len(ordered))
	for _, root := range roots {
		assignDepth(root, 0, visited)
	}

	// whatever is still unvisited hangs off a cycle with no root above it
	for _, node := range ordered {
		if _, ok := visited[node.ID]; ok {
			continue
		}
		member := cycleMember(byID, node, visited)
		if parent, ok := lookupParent(byID, member); ok {
			parent.Children = removeChild(parent.Children, member)
		}
		member.ParentID = nil
		roots = append(roots, member)
		assignDepth(member, 0, visited)
	}
	return roots
}

// cycleMember walks up from an unvisited node and returns the first node seen
// twice. The start node is returned if the walk leaves the unvisited set.
func cycleMember(byID map[string]*TreeNode, start *TreeNode, visited map[string]struct{}) *TreeNode {
	seen := map[string]struct{}{}
	for node := start; ; {
		if _, ok := seen[node.ID]; ok {
			return node
		}
		seen[node.ID] = struct{}{}
		parent, ok := lookupParent(byID, node)
		if !ok {
			return start
		}
		if _, done := visited[parent.ID]; done {
			return start
		}
		node = parent
	}
}

// Flatten lists the forest depth first, the order a tree view renders it.
func Flatten(roots []*TreeNode) []FlatItem {
	items := make([]FlatItem, 0)
	var walk func(nodes []*TreeNode)
	walk = func(nodes []*TreeNode) {
		for _, node := range nodes {
			items = append(items, FlatItem{ID: node.ID, Depth: node.Depth, ParentID: node.ParentID})
			walk(node.Children)
		}
	}
	walk(roots)
	return items
}

// InferReparentFromReorder turns a drag-and-drop onto targetID into a new
// parent id for movedID; nil means root.
//
// A target at depth 0 yields root. Otherwise the nearest preceding row one
// level shallower than the target is the candidate, unless the moved row sits
// at the target's depth, in which case it is dropped beside the target and
// takes the target's parent.
func (m *Manager) InferReparentFromReorder(items []FlatItem, movedID, targetID string) (*string, error) {
	movedIdx, targetIdx := -1, -1
	for i, item := range items {
		if item.ID == movedID && movedIdx < 0 {
			movedIdx = i
		}
		if item.ID == targetID && targetIdx < 0 {
			targetIdx = i
		}
	}
	if movedIdx < 0 {
		return nil, graph.NotFound(m.kind, movedID)
	}
	if targetIdx < 0 {
		return nil, graph.NotFound(m.kind, targetID)
	}

	target := items[targetIdx]
	if target.Depth == 0 {
		return nil, nil
	}

	var candidate *string
	for i := targetIdx - 1; i >= 0; i-- {
		if items[i].ID == movedID {
			continue
		}
		if items[i].Depth == target.Depth-1 {
			id := items[i].ID
			candidate = &id
			break
		}
	}
	if items[movedIdx].Depth == target.Depth {
		candidate = nil
		if target.ParentID != nil {
			id := *target.ParentID
			candidate = &id
		}
	}
	return candidate, nil
}

func lookupParent(byID map[string]*TreeNode, node *TreeNode) (*TreeNode, bool) {
	if node.ParentID == nil || *node.ParentID == node.ID {
		return nil, false
	}
	parent, ok := byID[*node.ParentID]
	return parent, ok
}

func assignDepth(node *TreeNode, depth int, visited map[string]struct{}) {
	if _, ok := visited[node.ID]; ok {
		return
	}
	visited[node.ID] = struct{}{}
	node.Depth = depth
	for _, child := range node.Children {
		assignDepth(child, depth+1, visited)
	}
}

func removeChild(children []*TreeNode, target *TreeNode) []*TreeNode {
	out := children[:0]
	for _, child := range children {
		if child != target {
			out = append(out, child)
		}
	}
	return out
}
