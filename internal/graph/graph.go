// Package graph defines the contract of the property-graph store the CMS core
// runs against: typed entities connected by typed, directed, property-bearing
// edges. Stores expose single-record operations only. There is no
// transaction, batch or uniqueness primitive, so callers sequence calls
// themselves and must tolerate partially applied writes.
package graph

import (
	"context"
	"time"
)

// Kind names an entity type (a table, label or collection in the backend).
type Kind string

const (
	KindContent       Kind = "Content"
	KindContentBlock  Kind = "ContentBlock"
	KindRevision      Kind = "Revision"
	KindRevisionBlock Kind = "RevisionBlock"
	KindCategory      Kind = "Category"
	KindPage          Kind = "Page"
	KindWorkflowState Kind = "WorkflowState"
	KindUser          Kind = "User"
	KindTag           Kind = "Tag"
)

// Relation names an edge type.
type Relation string

const (
	RelHasState    Relation = "HAS_STATE"
	RelAuthoredBy  Relation = "AUTHORED_BY"
	RelHasBlock    Relation = "HAS_BLOCK"
	RelHasRevision Relation = "HAS_REVISION"
	RelSnapshotOf  Relation = "SNAPSHOT_OF"
	RelParent      Relation = "PARENT"
	RelInCategory  Relation = "IN_CATEGORY"
	RelTagged      Relation = "TAGGED"
)

// Direction selects which end of an edge a traversal starts from.
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
)

// Order is a sort direction for List.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Fields holds the scalar and JSON-valued attributes of an entity or edge.
type Fields map[string]any

// Ref addresses a single entity.
type Ref struct {
	Kind Kind
	ID   string
}

type Entity struct {
	ID        string
	Kind      Kind
	Fields    Fields
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e Entity) Ref() Ref {
	return Ref{Kind: e.Kind, ID: e.ID}
}

// Related is one traversal hit: the entity at the far end of an edge and the
// edge's own properties.
type Related struct {
	Target     Entity
	Properties Fields
}

type ListOptions struct {
	OrderBy string
	Order   Order
}

// Store is the graph backend. Get, Patch and Delete return a *NotFoundError
// when the entity does not exist. Deleting an entity also drops the edges
// attached to it. GetRelationships skips edges whose far end no longer
// exists. targetKind may be empty to traverse to any kind.
type Store interface {
	Create(ctx context.Context, kind Kind, fields Fields) (Entity, error)
	Get(ctx context.Context, kind Kind, id string) (Entity, error)
	Patch(ctx context.Context, kind Kind, id string, fields Fields) (Entity, error)
	Delete(ctx context.Context, kind Kind, id string) error
	List(ctx context.Context, kind Kind, opts ListOptions) ([]Entity, error)
	Query(ctx context.Context, kind Kind, where Fields) ([]Entity, error)

	GetRelationships(ctx context.Context, from Ref, relation Relation, direction Direction, targetKind Kind) ([]Related, error)
	CreateRelationship(ctx context.Context, from Ref, relation Relation, to Ref, properties Fields) error
	DeleteRelationship(ctx context.Context, from Ref, relation Relation, to Ref) error
}
