package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/revision"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/workflow"
)

type Content struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Slug            string             `json:"slug"`
	IsSystem        bool               `json:"isSystem"`
	State           string             `json:"state,omitempty"`
	AuthorID        string             `json:"authorId,omitempty"`
	Blocks          []revision.Block   `json:"blocks"`
	CurrentRevision *revision.Revision `json:"currentRevision,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

type ContentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateContentInput struct {
	Title    string           `json:"title"`
	Slug     string           `json:"slug"`
	AuthorID string           `json:"authorId"`
	IsSystem bool             `json:"isSystem"`
	Blocks   []revision.Block `json:"blocks"`
}

type SaveContentInput struct {
	Title    *string          `json:"title"`
	Blocks   []revision.Block `json:"blocks"`
	AuthorID string           `json:"authorId"`
	Message  string           `json:"message"`
}

// CreateContent writes the content record, its primary author and default
// state edges, its blocks and revision #1, in that order.
func (s *Service) CreateContent(ctx context.Context, input CreateContentInput) (Content, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Content{}, validationError("title is required")
	}
	if strings.TrimSpace(input.AuthorID) == "" {
		return Content{}, validationError("authorId is required")
	}
	slug := slugify(input.Slug)
	if slug == "" {
		slug = slugify(title)
	}

	var states []workflow.State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := s.store.Get(gctx, graph.KindUser, input.AuthorID); err != nil {
			if graph.IsNotFound(err) {
				return validationError("author " + input.AuthorID + " does not exist")
			}
			return err
		}
		return nil
	})
	g.Go(func() error {
		var err error
		states, err = s.WorkflowStates(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Content{}, err
	}

	entity, err := s.store.Create(ctx, graph.KindContent, graph.Fields{
		"title":    title,
		"slug":     slug,
		"isSystem": input.IsSystem,
	})
	if err != nil {
		return Content{}, err
	}
	log := s.log.With().Str("content_id", entity.ID).Logger()

	author := graph.Ref{Kind: graph.KindUser, ID: input.AuthorID}
	if err := s.store.CreateRelationship(ctx, entity.Ref(), graph.RelAuthoredBy, author, graph.Fields{"role": revision.RolePrimary}); err != nil {
		return Content{}, fmt.Errorf("link author of %s: %w", entity.ID, err)
	}
	if state, ok := workflow.Default(states); ok {
		stateRef := graph.Ref{Kind: graph.KindWorkflowState, ID: state.ID}
		if err := s.store.CreateRelationship(ctx, entity.Ref(), graph.RelHasState, stateRef, nil); err != nil {
			return Content{}, fmt.Errorf("set initial state of %s: %w", entity.ID, err)
		}
	}
	if err := s.revisions.ReplaceBlocks(ctx, entity.ID, input.Blocks); err != nil {
		return Content{}, err
	}
	rev, err := s.revisions.CreateRevision(ctx, entity.ID, input.AuthorID, "Initial revision")
	if err != nil {
		return Content{}, err
	}
	log.Info().Int("blocks", len(input.Blocks)).Msg("content created")
	s.afterRevision(ctx, rev)

	return s.GetContent(ctx, entity.ID)
}

// SaveContent replaces the live blocks, updates the title when given, and
// snapshots the result as a new revision.
func (s *Service) SaveContent(ctx context.Context, contentID string, input SaveContentInput) (revision.Revision, error) {
	content, err := s.store.Get(ctx, graph.KindContent, contentID)
	if err != nil {
		return revision.Revision{}, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return revision.Revision{}, validationError("title must not be blank")
	}
	authorID, err := s.revisions.ResolveAuthor(ctx, contentID, input.AuthorID)
	if err != nil {
		return revision.Revision{}, err
	}

	if err := s.revisions.ReplaceBlocks(ctx, contentID, input.Blocks); err != nil {
		return revision.Revision{}, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) != content.String("title") {
		if _, err := s.store.Patch(ctx, graph.KindContent, contentID, graph.Fields{"title": strings.TrimSpace(*input.Title)}); err != nil {
			return revision.Revision{}, fmt.Errorf("update title of %s: %w", contentID, err)
		}
	}
	rev, err := s.revisions.CreateRevision(ctx, contentID, authorID, input.Message)
	if err != nil {
		return revision.Revision{}, err
	}
	s.log.Info().Str("content_id", contentID).Int("revision", rev.RevisionNumber).Msg("content saved")
	s.afterRevision(ctx, rev)
	return rev, nil
}

func (s *Service) GetContent(ctx context.Context, contentID string) (Content, error) {
	var (
		entity  graph.Entity
		blocks  []revision.Block
		state   string
		author  string
		current *revision.Revision
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entity, err = s.store.Get(gctx, graph.KindContent, contentID)
		return err
	})
	g.Go(func() error {
		var err error
		blocks, err = s.revisions.LiveBlocks(gctx, contentID)
		return err
	})
	g.Go(func() error {
		st, err := s.currentState(gctx, contentID)
		if st != nil {
			state = st.Slug
		}
		return err
	})
	g.Go(func() error {
		var err error
		author, err = s.revisions.PrimaryAuthor(gctx, contentID)
		return err
	})
	g.Go(func() error {
		rev, err := s.revisions.CurrentRevision(gctx, contentID)
		if graph.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		current = &rev
		return nil
	})
	if err := g.Wait(); err != nil {
		return Content{}, err
	}

	return Content{
		ID:              entity.ID,
		Title:           entity.String("title"),
		Slug:            entity.String("slug"),
		IsSystem:        entity.Bool("isSystem"),
		State:           state,
		AuthorID:        author,
		Blocks:          blocks,
		CurrentRevision: current,
		CreatedAt:       entity.CreatedAt,
		UpdatedAt:       entity.UpdatedAt,
	}, nil
}

func (s *Service) ListContents(ctx context.Context) ([]ContentSummary, error) {
	entities, err := s.store.List(ctx, graph.KindContent, graph.ListOptions{OrderBy: "updatedAt", Order: graph.OrderDesc})
	if err != nil {
		return nil, err
	}
	out := make([]ContentSummary, 0, len(entities))
	for _, entity := range entities {
		out = append(out, ContentSummary{
			ID:        entity.ID,
			Title:     entity.String("title"),
			Slug:      entity.String("slug"),
			UpdatedAt: entity.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Service) Revisions(ctx context.Context, contentID string) ([]revision.Revision, error) {
	if _, err := s.store.Get(ctx, graph.KindContent, contentID); err != nil {
		return nil, err
	}
	return s.revisions.Revisions(ctx, contentID)
}

func (s *Service) CurrentRevision(ctx context.Context, contentID string) (revision.Revision, error) {
	return s.revisions.CurrentRevision(ctx, contentID)
}

// RevisionSnapshot returns a revision of contentID with its blocks. A revision
// of another content is reported as not found.
func (s *Service) RevisionSnapshot(ctx context.Context, contentID, revisionID string) (revision.Snapshot, error) {
	snapshot, err := s.revisions.Snapshot(ctx, revisionID)
	if err != nil {
		return revision.Snapshot{}, err
	}
	if snapshot.Revision.ContentID != contentID {
		return revision.Snapshot{}, graph.NotFound(graph.KindRevision, revisionID)
	}
	return snapshot, nil
}

func (s *Service) RestoreRevision(ctx context.Context, contentID, revisionID, authorID string) (revision.Revision, error) {
	rev, err := s.revisions.RestoreRevision(ctx, contentID, revisionID, authorID)
	if err != nil {
		return revision.Revision{}, err
	}
	s.log.Info().Str("content_id", contentID).Str("from", revisionID).Int("revision", rev.RevisionNumber).Msg("revision restored")
	s.afterRevision(ctx, rev)
	return rev, nil
}

func (s *Service) CompareRevisions(ctx context.Context, contentID, fromID, toID string) (revision.Diff, error) {
	return s.revisions.Compare(ctx, contentID, fromID, toID)
}

// RepairCurrent re-flags the revision CurrentRevision reports so that exactly
// one revision carries isCurrent.
func (s *Service) RepairCurrent(ctx context.Context, contentID string) (revision.Revision, error) {
	return s.revisions.RepairCurrent(ctx, contentID)
}
