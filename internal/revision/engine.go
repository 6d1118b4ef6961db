// Package revision snapshots content blocks into numbered, immutable
// revisions and restores them.
//
// Every write here is a sequence of independent store calls. New records are
// written before flags are flipped, and "current" is derived when read
// (highest flagged revision number, creation time breaking ties), so a failed
// sequence is repaired by running the same operation again.
package revision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
)

type Engine struct {
	store graph.Store
	log   zerolog.Logger
}

func NewEngine(store graph.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		log:   log.With().Str("component", "revision").Logger(),
	}
}

// CreateRevision snapshots the live blocks of a content as its new current
// revision. An empty authorID falls back to the content's primary author.
func (e *Engine) CreateRevision(ctx context.Context, contentID, authorID, message string) (Revision, error) {
	var (
		content  graph.Entity
		existing []Revision
		blocks   []Block
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		content, err = e.store.Get(gctx, graph.KindContent, contentID)
		return err
	})
	g.Go(func() error {
		var err error
		existing, err = e.listRevisions(gctx, contentID)
		return err
	})
	g.Go(func() error {
		var err error
		blocks, err = e.LiveBlocks(gctx, contentID)
		return err
	})
	g.Go(func() error {
		var err error
		authorID, err = e.ResolveAuthor(gctx, contentID, authorID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Revision{}, err
	}

	next := 1
	for _, rev := range existing {
		if rev.RevisionNumber >= next {
			next = rev.RevisionNumber + 1
		}
	}

	entity, err := e.store.Create(ctx, graph.KindRevision, graph.Fields{
		"contentId":      contentID,
		"revisionNumber": next,
		"title":          content.String("title"),
		"isCurrent":      true,
		"message":        message,
		"createdBy":      authorID,
	})
	if err != nil {
		return Revision{}, fmt.Errorf("create revision %d of %s: %w", next, contentID, err)
	}
	created := revisionFromEntity(entity)

	if err := e.store.CreateRelationship(ctx, content.Ref(), graph.RelHasRevision, entity.Ref(), nil); err != nil {
		return Revision{}, fmt.Errorf("link revision %s: %w", entity.ID, err)
	}
	author := graph.Ref{Kind: graph.KindUser, ID: authorID}
	if err := e.store.CreateRelationship(ctx, entity.Ref(), graph.RelAuthoredBy, author, graph.Fields{"role": RolePrimary}); err != nil {
		return Revision{}, fmt.Errorf("link revision author %s: %w", authorID, err)
	}

	for _, block := range blocks {
		fields := block.fields()
		fields["revisionId"] = entity.ID
		snap, err := e.store.Create(ctx, graph.KindRevisionBlock, fields)
		if err != nil {
			return Revision{}, fmt.Errorf("snapshot block %d of revision %s: %w", block.Position, entity.ID, err)
		}
		if err := e.store.CreateRelationship(ctx, entity.Ref(), graph.RelSnapshotOf, snap.Ref(), graph.Fields{"position": block.Position}); err != nil {
			return Revision{}, fmt.Errorf("link snapshot block %s: %w", snap.ID, err)
		}
	}

	for _, rev := range existing {
		if !rev.IsCurrent {
			continue
		}
		if _, err := e.store.Patch(ctx, graph.KindRevision, rev.ID, graph.Fields{"isCurrent": false}); err != nil {
			return Revision{}, fmt.Errorf("clear current flag on revision %s: %w", rev.ID, err)
		}
	}

	e.log.Debug().
		Str("content_id", contentID).
		Str("revision_id", created.ID).
		Int("revision", created.RevisionNumber).
		Int("blocks", len(blocks)).
		Msg("revision created")
	return created, nil
}

// RestoreRevision replaces the live blocks and title of a content with those
// of one of its revisions, then records the result as a new revision. Workflow
// state, authorship, categories, tags and hierarchy are left alone.
func (e *Engine) RestoreRevision(ctx context.Context, contentID, revisionID, authorID string) (Revision, error) {
	var (
		snapshot Snapshot
		content  graph.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot, err = e.Snapshot(gctx, revisionID)
		return err
	})
	g.Go(func() error {
		var err error
		content, err = e.store.Get(gctx, graph.KindContent, contentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Revision{}, err
	}
	if snapshot.Revision.ContentID != contentID {
		return Revision{}, graph.NotFound(graph.KindRevision, revisionID)
	}
	if content.Bool("isSystem") {
		return Revision{}, &PermissionError{Kind: graph.KindContent, ID: contentID, Operation: "restore"}
	}
	authorID, err := e.ResolveAuthor(ctx, contentID, authorID)
	if err != nil {
		return Revision{}, err
	}

	if err := e.ReplaceBlocks(ctx, contentID, snapshot.Blocks); err != nil {
		return Revision{}, err
	}
	if _, err := e.store.Patch(ctx, graph.KindContent, contentID, graph.Fields{"title": snapshot.Revision.Title}); err != nil {
		return Revision{}, fmt.Errorf("restore title of %s: %w", contentID, err)
	}

	message := fmt.Sprintf("Restored from revision #%d", snapshot.Revision.RevisionNumber)
	restored, err := e.CreateRevision(ctx, contentID, authorID, message)
	if err != nil {
		return Revision{}, err
	}
	e.log.Info().
		Str("content_id", contentID).
		Int("from", snapshot.Revision.RevisionNumber).
		Int("revision", restored.RevisionNumber).
		Msg("revision restored")
	return restored, nil
}

// CurrentRevision derives the current revision: the highest-numbered one
// flagged current, or the highest-numbered one when none is flagged.
func (e *Engine) CurrentRevision(ctx context.Context, contentID string) (Revision, error) {
	revisions, err := e.Revisions(ctx, contentID)
	if err != nil {
		return Revision{}, err
	}
	current, flagged, ok := pickCurrent(revisions)
	if !ok {
		return Revision{}, graph.NotFound(graph.KindRevision, contentID)
	}
	if flagged != 1 {
		e.log.Warn().
			Str("content_id", contentID).
			Int("flagged", flagged).
			Int("revision", current.RevisionNumber).
			Msg("inconsistent current revision flags")
	}
	return current, nil
}

// RepairCurrent rewrites the isCurrent flags so that exactly the derived
// current revision carries it.
func (e *Engine) RepairCurrent(ctx context.Context, contentID string) (Revision, error) {
	revisions, err := e.Revisions(ctx, contentID)
	if err != nil {
		return Revision{}, err
	}
	current, _, ok := pickCurrent(revisions)
	if !ok {
		return Revision{}, graph.NotFound(graph.KindRevision, contentID)
	}
	// flag the survivor before clearing the others
	if !current.IsCurrent {
		if _, err := e.store.Patch(ctx, graph.KindRevision, current.ID, graph.Fields{"isCurrent": true}); err != nil {
			return Revision{}, fmt.Errorf("flag revision %s current: %w", current.ID, err)
		}
		current.IsCurrent = true
	}
	for _, rev := range revisions {
		if rev.ID == current.ID || !rev.IsCurrent {
			continue
		}
		if _, err := e.store.Patch(ctx, graph.KindRevision, rev.ID, graph.Fields{"isCurrent": false}); err != nil {
			return Revision{}, fmt.Errorf("clear current flag on revision %s: %w", rev.ID, err)
		}
	}
	return current, nil
}

// Revisions lists a content's revisions, newest first.
func (e *Engine) Revisions(ctx context.Context, contentID string) ([]Revision, error) {
	revisions, err := e.listRevisions(ctx, contentID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(revisions)
	return revisions, nil
}

func (e *Engine) Snapshot(ctx context.Context, revisionID string) (Snapshot, error) {
	var (
		entity graph.Entity
		blocks []Block
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entity, err = e.store.Get(gctx, graph.KindRevision, revisionID)
		return err
	})
	g.Go(func() error {
		related, err := e.store.GetRelationships(gctx, graph.Ref{Kind: graph.KindRevision, ID: revisionID}, graph.RelSnapshotOf, graph.Outgoing, graph.KindRevisionBlock)
		if err != nil {
			return fmt.Errorf("read snapshot of %s: %w", revisionID, err)
		}
		blocks = blocksFrom(related)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Revision: revisionFromEntity(entity), Blocks: blocks}, nil
}

// Compare loads two revisions of a content and diffs them.
func (e *Engine) Compare(ctx context.Context, contentID, fromID, toID string) (Diff, error) {
	var from, to Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		from, err = e.Snapshot(gctx, fromID)
		return err
	})
	g.Go(func() error {
		var err error
		to, err = e.Snapshot(gctx, toID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Diff{}, err
	}
	if from.Revision.ContentID != contentID {
		return Diff{}, graph.NotFound(graph.KindRevision, fromID)
	}
	if to.Revision.ContentID != contentID {
		return Diff{}, graph.NotFound(graph.KindRevision, toID)
	}
	return CompareRevisions(from, to), nil
}

// LiveBlocks returns the current blocks of a content ordered by position.
func (e *Engine) LiveBlocks(ctx context.Context, contentID string) ([]Block, error) {
	related, err := e.store.GetRelationships(ctx, graph.Ref{Kind: graph.KindContent, ID: contentID}, graph.RelHasBlock, graph.Outgoing, graph.KindContentBlock)
	if err != nil {
		return nil, fmt.Errorf("read blocks of %s: %w", contentID, err)
	}
	return blocksFrom(related), nil
}

// ReplaceBlocks deletes every live block of a content and creates the given
// ones with fresh ids, renumbered 0..n-1 in position order. A failure part way
// leaves a prefix of the new blocks; calling it again converges.
func (e *Engine) ReplaceBlocks(ctx context.Context, contentID string, blocks []Block) error {
	current, err := e.LiveBlocks(ctx, contentID)
	if err != nil {
		return err
	}
	for _, block := range current {
		if err := e.store.Delete(ctx, graph.KindContentBlock, block.ID); err != nil && !graph.IsNotFound(err) {
			return fmt.Errorf("delete block %s: %w", block.ID, err)
		}
	}

	ordered := append([]Block(nil), blocks...)
	sortBlocks(ordered)
	content := graph.Ref{Kind: graph.KindContent, ID: contentID}
	for i, block := range ordered {
		block.Position = i
		fields := block.fields()
		fields["contentId"] = contentID
		created, err := e.store.Create(ctx, graph.KindContentBlock, fields)
		if err != nil {
			return fmt.Errorf("create block %d of %s: %w", block.Position, contentID, err)
		}
		if err := e.store.CreateRelationship(ctx, content, graph.RelHasBlock, created.Ref(), graph.Fields{"position": block.Position}); err != nil {
			return fmt.Errorf("link block %s: %w", created.ID, err)
		}
	}
	return nil
}

// ResolveAuthor returns the user a new revision of contentID is credited to:
// authorID when it names an existing user, otherwise the content's primary
// author. Callers run it before their first write.
func (e *Engine) ResolveAuthor(ctx context.Context, contentID, authorID string) (string, error) {
	if authorID != "" {
		if _, err := e.store.Get(ctx, graph.KindUser, authorID); err != nil {
			if graph.IsNotFound(err) {
				return "", &ValidationError{Field: "authorId", Reason: fmt.Sprintf("user %q does not exist", authorID)}
			}
			return "", err
		}
		return authorID, nil
	}
	primaryID, err := e.PrimaryAuthor(ctx, contentID)
	if err != nil {
		return "", err
	}
	if primaryID == "" {
		return "", &ValidationError{Field: "authorId", Reason: "no author supplied and content has no primary author"}
	}
	return primaryID, nil
}

// PrimaryAuthor returns the id of the content's PRIMARY author, or "" when it
// has none.
func (e *Engine) PrimaryAuthor(ctx context.Context, contentID string) (string, error) {
	related, err := e.store.GetRelationships(ctx, graph.Ref{Kind: graph.KindContent, ID: contentID}, graph.RelAuthoredBy, graph.Outgoing, graph.KindUser)
	if err != nil {
		return "", fmt.Errorf("read authors of %s: %w", contentID, err)
	}
	for _, rel := range related {
		if rel.Properties.String("role") == RolePrimary {
			return rel.Target.ID, nil
		}
	}
	return "", nil
}

func (e *Engine) listRevisions(ctx context.Context, contentID string) ([]Revision, error) {
	related, err := e.store.GetRelationships(ctx, graph.Ref{Kind: graph.KindContent, ID: contentID}, graph.RelHasRevision, graph.Outgoing, graph.KindRevision)
	if err != nil {
		return nil, fmt.Errorf("read revisions of %s: %w", contentID, err)
	}
	revisions := make([]Revision, 0, len(related))
	seen := make(map[string]struct{}, len(related))
	for _, rel := range related {
		if _, dup := seen[rel.Target.ID]; dup {
			continue
		}
		seen[rel.Target.ID] = struct{}{}
		revisions = append(revisions, revisionFromEntity(rel.Target))
	}
	return revisions, nil
}

func blocksFrom(related []graph.Related) []Block {
	blocks := make([]Block, 0, len(related))
	seen := make(map[string]struct{}, len(related))
	for _, rel := range related {
		if _, dup := seen[rel.Target.ID]; dup {
			continue
		}
		seen[rel.Target.ID] = struct{}{}
		blocks = append(blocks, blockFromEntity(rel.Target))
	}
	sortBlocks(blocks)
	return blocks
}

// pickCurrent returns the derived current revision and how many revisions
// carry the flag.
func pickCurrent(revisions []Revision) (Revision, int, bool) {
	var (
		best, fallback Revision
		flagged        int
		found          bool
	)
	for i, rev := range revisions {
		if i == 0 || newer(rev, fallback) {
			fallback = rev
		}
		if !rev.IsCurrent {
			continue
		}
		flagged++
		if !found || newer(rev, best) {
			best = rev
			found = true
		}
	}
	if found {
		return best, flagged, true
	}
	return fallback, 0, len(revisions) > 0
}

