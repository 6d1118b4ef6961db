// Package graphtest provides helpers for exercising code against a
// graph.Store that fails part way through a multi-call sequence.
package graphtest

import (
	"context"
	"errors"
	"sync"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

// ErrInjected is returned by FaultyStore for every injected failure.
var ErrInjected = errors.New("injected store failure")

type Op string

const (
	OpCreate             Op = "create"
	OpGet                Op = "get"
	OpPatch              Op = "patch"
	OpDelete             Op = "delete"
	OpList               Op = "list"
	OpQuery              Op = "query"
	OpGetRelationships   Op = "getRelationships"
	OpCreateRelationship Op = "createRelationship"
	OpDeleteRelationship Op = "deleteRelationship"
)

// FaultyStore wraps a Store and fails selected calls. Each Fail rule fires
// once, on the nth matching call counted from when the rule was added.
type FaultyStore struct {
	graph.Store

	mu    sync.Mutex
	rules []*rule
	calls map[Op]int
}

type rule struct {
	op    Op
	kind  graph.Kind
	after int
	seen  int
	fired bool
}

func Wrap(store graph.Store) *FaultyStore {
	return &FaultyStore{Store: store, calls: make(map[Op]int)}
}

// Fail makes the nth (1-based) future call of op fail. kind narrows the rule
// to one entity kind; for relationship calls it matches the source kind.
func (f *FaultyStore) Fail(op Op, kind graph.Kind, nth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{op: op, kind: kind, after: nth})
}

// Reset drops all pending rules.
func (f *FaultyStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// Calls reports how many calls of op reached the wrapper.
func (f *FaultyStore) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyStore) check(op Op, kind graph.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for _, r := range f.rules {
		if r.fired || r.op != op || (r.kind != "" && r.kind != kind) {
			continue
		}
		r.seen++
		if r.seen == r.after {
			r.fired = true
			return ErrInjected
		}
	}
	return nil
}

func (f *FaultyStore) Create(ctx context.Context, kind graph.Kind, fields graph.Fields) (graph.Entity, error) {
	if err := f.check(OpCreate, kind); err != nil {
		return graph.Entity{}, err
	}
	return f.Store.Create(ctx, kind, fields)
}

func (f *FaultyStore) Get(ctx context.Context, kind graph.Kind, id string) (graph.Entity, error) {
	if err := f.check(OpGet, kind); err != nil {
		return graph.Entity{}, err
	}
	return f.Store.Get(ctx, kind, id)
}

func (f *FaultyStore) Patch(ctx context.Context, kind graph.Kind, id string, fields graph.Fields) (graph.Entity, error) {
	if err := f.check(OpPatch, kind); err != nil {
		return graph.Entity{}, err
	}
	return f.Store.Patch(ctx, kind, id, fields)
}

func (f *FaultyStore) Delete(ctx context.Context, kind graph.Kind, id string) error {
	if err := f.check(OpDelete, kind); err != nil {
		return err
	}
	return f.Store.Delete(ctx, kind, id)
}

func (f *FaultyStore) List(ctx context.Context, kind graph.Kind, opts graph.ListOptions) ([]graph.Entity, error) {
	if err := f.check(OpList, kind); err != nil {
		return nil, err
	}
	return f.Store.List(ctx, kind, opts)
}

func (f *FaultyStore) Query(ctx context.Context, kind graph.Kind, where graph.Fields) ([]graph.Entity, error) {
	if err := f.check(OpQuery, kind); err != nil {
		return nil, err
	}
	return f.Store.Query(ctx, kind, where)
}

func (f *FaultyStore) GetRelationships(ctx context.Context, from graph.Ref, relation graph.Relation, direction graph.Direction, targetKind graph.Kind) ([]graph.Related, error) {
	if err := f.check(OpGetRelationships, from.Kind); err != nil {
		return nil, err
	}
	return f.Store.GetRelationships(ctx, from, relation, direction, targetKind)
}

func (f *FaultyStore) CreateRelationship(ctx context.Context, from graph.Ref, relation graph.Relation, to graph.Ref, properties graph.Fields) error {
	if err := f.check(OpCreateRelationship, from.Kind); err != nil {
		return err
	}
	return f.Store.CreateRelationship(ctx, from, relation, to, properties)
}

func (f *FaultyStore) DeleteRelationship(ctx context.Context, from graph.Ref, relation graph.Relation, to graph.Ref) error {
	if err := f.check(OpDeleteRelationship, from.Kind); err != nil {
		return err
	}
	return f.Store.DeleteRelationship(ctx, from, relation, to)
}
