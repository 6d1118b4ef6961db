package app

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/config"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/revision"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/search"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/tree"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/workflow"
)

type stateCache interface {
	States(ctx context.Context) ([]workflow.State, bool, error)
	SaveStates(ctx context.Context, states []workflow.State) error
	Invalidate(ctx context.Context) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	Refresh(ctx context.Context, contentID string)
}

type snapshotArchive interface {
	Archive(ctx context.Context, snapshot revision.Snapshot) (string, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Service composes the revision engine, the tree managers and the workflow
// validator over one graph store. Search, archive and the state cache are
// optional.
type Service struct {
	cfg       config.Config
	store     graph.Store
	revisions *revision.Engine
	trees     map[string]*tree.Manager
	states    stateCache
	search    searchIndex
	archive   snapshotArchive
	log       zerolog.Logger

	sideEffectTimeout time.Duration
}

func New(cfg config.Config, store graph.Store, log zerolog.Logger) *Service {
	timeout := cfg.SideEffectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		revisions: revision.NewEngine(store, log),
		trees: map[string]*tree.Manager{
			"category": tree.NewManager(store, graph.KindCategory, log),
			"page":     tree.NewManager(store, graph.KindPage, log),
		},
		log:               log.With().Str("component", "app").Logger(),
		sideEffectTimeout: timeout,
	}
}

func (s *Service) WithStateCache(cache stateCache) *Service {
	s.states = cache
	return s
}

func (s *Service) WithSearch(index searchIndex) *Service {
	s.search = index
	return s
}

func (s *Service) WithArchive(archive snapshotArchive) *Service {
	s.archive = archive
	return s
}

// Engine exposes the revision engine for callers that need it directly, such
// as the search fallback.
func (s *Service) Engine() *revision.Engine {
	return s.revisions
}

var defaultStates = []workflow.State{
	{Slug: "draft", Name: "Draft", AllowedTransitions: []string{"review"}, IsDefault: true},
	{Slug: "review", Name: "In review", AllowedTransitions: []string{"draft", "published"}},
	{Slug: "published", Name: "Published", AllowedTransitions: []string{"draft", "archived"}},
	{Slug: "archived", Name: "Archived", AllowedTransitions: []string{"draft"}},
}

// Bootstrap seeds the default workflow when the store has no states yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	existing, err := s.store.List(ctx, graph.KindWorkflowState, graph.ListOptions{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, state := range defaultStates {
		if _, err := s.CreateWorkflowState(ctx, state); err != nil {
			return err
		}
	}
	s.log.Info().Int("states", len(defaultStates)).Msg("seeded default workflow")
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func userFromEntity(entity graph.Entity) User {
	return User{ID: entity.ID, Name: entity.String("name"), Email: entity.String("email")}
}

func (s *Service) CreateUser(ctx context.Context, name, email string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, validationError("name is required")
	}
	entity, err := s.store.Create(ctx, graph.KindUser, graph.Fields{
		"name":  name,
		"email": strings.TrimSpace(email),
	})
	if err != nil {
		return User{}, err
	}
	return userFromEntity(entity), nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	entity, err := s.store.Get(ctx, graph.KindUser, id)
	if err != nil {
		return User{}, err
	}
	return userFromEntity(entity), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// afterRevision indexes the content and archives the new snapshot. Failures
// are logged only. The work runs on a context detached from the request so a
// client disconnect does not cut it short.
func (s *Service) afterRevision(ctx context.Context, rev revision.Revision) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	if s.search != nil {
		s.search.Refresh(ctx, rev.ContentID)
	}
	if s.archive == nil {
		return
	}
	snapshot, err := s.revisions.Snapshot(ctx, rev.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("content_id", rev.ContentID).Str("revision", rev.ID).Msg("load snapshot for archive")
		return
	}
	key, err := s.archive.Archive(ctx, snapshot)
	if err != nil {
		s.log.Warn().Err(err).Str("content_id", rev.ContentID).Str("revision", rev.ID).Msg("archive revision")
		return
	}
	if key != "" {
		s.log.Debug().Str("content_id", rev.ContentID).Str("key", key).Msg("revision archived")
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

func notFoundKind(kind string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "unknown tree kind "+kind, map[string]any{"kind": kind})
}
