package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/util"
)

// MemoryStore is an in-process Store. It keeps the same semantics as the
// remote backends (no transactions, duplicate edges allowed, cascade of edges
// on entity delete) and backs the test suites and GRAPH_BACKEND=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[Kind]map[string]*memoryEntity
	edges    []memoryEdge
	seq      uint64
	last     time.Time
	now      func() time.Time
}

type memoryEntity struct {
	entity Entity
	seq    uint64
}

type memoryEdge struct {
	from       Ref
	relation   Relation
	to         Ref
	properties Fields
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[Kind]map[string]*memoryEntity),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Timestamps stay strictly increasing even
// when the clock stands still.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *MemoryStore) Create(ctx context.Context, kind Kind, fields Fields) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.tick()
	m.seq++
	entity := Entity{
		ID:        NewID(kind),
		Kind:      kind,
		Fields:    fields.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entity.Fields == nil {
		entity.Fields = Fields{}
	}
	if m.entities[kind] == nil {
		m.entities[kind] = make(map[string]*memoryEntity)
	}
	m.entities[kind][entity.ID] = &memoryEntity{entity: entity, seq: m.seq}
	return cloneEntity(entity), nil
}

func (m *MemoryStore) Get(ctx context.Context, kind Kind, id string) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.entities[kind][id]
	if !ok {
		return Entity{}, NotFound(kind, id)
	}
	return cloneEntity(stored.entity), nil
}

func (m *MemoryStore) Patch(ctx context.Context, kind Kind, id string, fields Fields) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entities[kind][id]
	if !ok {
		return Entity{}, NotFound(kind, id)
	}
	for k, v := range fields {
		stored.entity.Fields[k] = v
	}
	stored.entity.UpdatedAt = m.tick()
	return cloneEntity(stored.entity), nil
}

func (m *MemoryStore) Delete(ctx context.Context, kind Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[kind][id]; !ok {
		return NotFound(kind, id)
	}
	delete(m.entities[kind], id)

	ref := Ref{Kind: kind, ID: id}
	kept := m.edges[:0]
	for _, edge := range m.edges {
		if edge.from == ref || edge.to == ref {
			continue
		}
		kept = append(kept, edge)
	}
	m.edges = kept
	return nil
}

func (m *MemoryStore) List(ctx context.Context, kind Kind, opts ListOptions) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := make([]*memoryEntity, 0, len(m.entities[kind]))
	for _, item := range m.entities[kind] {
		stored = append(stored, item)
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })
	if opts.OrderBy != "" {
		sort.SliceStable(stored, func(i, j int) bool {
			cmp := compareField(stored[i].entity, stored[j].entity, opts.OrderBy)
			if opts.Order == OrderDesc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	out := make([]Entity, 0, len(stored))
	for _, item := range stored {
		out = append(out, cloneEntity(item.entity))
	}
	return out, nil
}

func (m *MemoryStore) Query(ctx context.Context, kind Kind, where Fields) ([]Entity, error) {
	all, err := m.List(ctx, kind, ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]Entity, 0)
	for _, entity := range all {
		if matches(entity, where) {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRelationships(ctx context.Context, from Ref, relation Relation, direction Direction, targetKind Kind) ([]Related, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Related, 0)
	for _, edge := range m.edges {
		if edge.relation != relation {
			continue
		}
		var far Ref
		switch direction {
		case Outgoing:
			if edge.from != from {
				continue
			}
			far = edge.to
		case Incoming:
			if edge.to != from {
				continue
			}
			far = edge.from
		default:
			return nil, fmt.Errorf("unknown direction %q", direction)
		}
		if targetKind != "" && far.Kind != targetKind {
			continue
		}
		target, ok := m.entities[far.Kind][far.ID]
		if !ok {
			continue
		}
		out = append(out, Related{Target: cloneEntity(target.entity), Properties: edge.properties.Clone()})
	}
	return out, nil
}

func (m *MemoryStore) CreateRelationship(ctx context.Context, from Ref, relation Relation, to Ref, properties Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[from.Kind][from.ID]; !ok {
		return NotFound(from.Kind, from.ID)
	}
	if _, ok := m.entities[to.Kind][to.ID]; !ok {
		return NotFound(to.Kind, to.ID)
	}
	props := properties.Clone()
	if props == nil {
		props = Fields{}
	}
	m.edges = append(m.edges, memoryEdge{from: from, relation: relation, to: to, properties: props})
	return nil
}

func (m *MemoryStore) DeleteRelationship(ctx context.Context, from Ref, relation Relation, to Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.edges[:0]
	for _, edge := range m.edges {
		if edge.from == from && edge.relation == relation && edge.to == to {
			continue
		}
		kept = append(kept, edge)
	}
	m.edges = kept
	return nil
}

// NewID returns a fresh id with a prefix naming the kind, e.g. "rev_...".
func NewID(kind Kind) string {
	return util.NewID(idPrefix(kind))
}

func idPrefix(kind Kind) string {
	switch kind {
	case KindContent:
		return "cnt"
	case KindContentBlock:
		return "blk"
	case KindRevision:
		return "rev"
	case KindRevisionBlock:
		return "rvb"
	case KindCategory:
		return "cat"
	case KindPage:
		return "pg"
	case KindWorkflowState:
		return "wfs"
	case KindUser:
		return "usr"
	case KindTag:
		return "tag"
	default:
		return "ent"
	}
}

func cloneEntity(e Entity) Entity {
	e.Fields = e.Fields.Clone()
	return e
}

func matches(entity Entity, where Fields) bool {
	for key, want := range where {
		got, ok := entity.Fields[key]
		if key == "id" {
			got, ok = entity.ID, true
		}
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

func compareField(a, b Entity, field string) int {
	switch field {
	case "createdAt":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	case "updatedAt":
		return compareTimes(a.UpdatedAt, b.UpdatedAt)
	}
	av, bv := a.Fields[field], b.Fields[field]
	if af, ok := toFloat(av); ok {
		if bf, ok := toFloat(bv); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := a.Fields.String(field), b.Fields.String(field)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
