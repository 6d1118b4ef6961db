package revision

import (
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

type BlockChange struct {
	Position int   `json:"position"`
	Before   Block `json:"before"`
	After    Block `json:"after"`
}

type Diff struct {
	TitleChanged   bool          `json:"titleChanged"`
	BlocksAdded    []Block       `json:"blocksAdded"`
	BlocksRemoved  []Block       `json:"blocksRemoved"`
	BlocksModified []BlockChange `json:"blocksModified"`
}

func (d Diff) HasChanges() bool {
	return d.TitleChanged || len(d.BlocksAdded) > 0 || len(d.BlocksRemoved) > 0 || len(d.BlocksModified) > 0
}

// CompareRevisions diffs two snapshots by block order. Snapshot blocks get
// fresh ids on every save, so ids are never compared. A modification reports
// the stored position of the earlier block.
func CompareRevisions(a, b Snapshot) Diff {
	before := append([]Block(nil), a.Blocks...)
	after := append([]Block(nil), b.Blocks...)
	sortBlocks(before)
	sortBlocks(after)

	diff := Diff{
		TitleChanged:   a.Revision.Title != b.Revision.Title,
		BlocksAdded:    []Block{},
		BlocksRemoved:  []Block{},
		BlocksModified: []BlockChange{},
	}
	for i := 0; i < len(before) || i < len(after); i++ {
		switch {
		case i >= len(before):
			diff.BlocksAdded = append(diff.BlocksAdded, after[i])
		case i >= len(after):
			diff.BlocksRemoved = append(diff.BlocksRemoved, before[i])
		case blockChanged(before[i], after[i]):
			diff.BlocksModified = append(diff.BlocksModified, BlockChange{Position: before[i].Position, Before: before[i], After: after[i]})
		}
	}
	return diff
}

func blockChanged(a, b Block) bool {
	return a.BlockType != b.BlockType || !graph.ValuesEqual(a.Content, b.Content)
}
