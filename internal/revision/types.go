package revision

import (
	"sort"
	"time"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

const RolePrimary = "PRIMARY"

type Revision struct {
	ID             string    `json:"id"`
	ContentID      string    `json:"contentId"`
	RevisionNumber int       `json:"revisionNumber"`
	Title          string    `json:"title"`
	IsCurrent      bool      `json:"isCurrent"`
	Message        string    `json:"message,omitempty"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Block is a content block, live or snapshotted. Content is the JSON payload
// as the store returned it.
type Block struct {
	ID        string `json:"id,omitempty"`
	BlockType string `json:"blockType"`
	Position  int    `json:"position"`
	Content   any    `json:"content"`
}

type Snapshot struct {
	Revision Revision `json:"revision"`
	Blocks   []Block  `json:"blocks"`
}

func revisionFromEntity(entity graph.Entity) Revision {
	return Revision{
		ID:             entity.ID,
		ContentID:      entity.String("contentId"),
		RevisionNumber: entity.Int("revisionNumber"),
		Title:          entity.String("title"),
		IsCurrent:      entity.Bool("isCurrent"),
		Message:        entity.String("message"),
		CreatedBy:      entity.String("createdBy"),
		CreatedAt:      entity.CreatedAt,
	}
}

func blockFromEntity(entity graph.Entity) Block {
	return Block{
		ID:        entity.ID,
		BlockType: entity.String("blockType"),
		Position:  entity.Int("position"),
		Content:   entity.Fields["content"],
	}
}

func (b Block) fields() graph.Fields {
	return graph.Fields{
		"blockType": b.BlockType,
		"position":  b.Position,
		"content":   b.Content,
	}
}

func sortBlocks(blocks []Block) {
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Position < blocks[j].Position })
}

// newer orders revisions by number, then by creation time when concurrent
// writers produced the same number.
func newer(a, b Revision) bool {
	if a.RevisionNumber != b.RevisionNumber {
		return a.RevisionNumber > b.RevisionNumber
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func sortNewestFirst(revisions []Revision) {
	sort.SliceStable(revisions, func(i, j int) bool { return newer(revisions[i], revisions[j]) })
}
