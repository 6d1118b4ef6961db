package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to a
// graph store scan.
type Service struct {
	meili    *Meili
	fallback *GraphScan
	log      zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *GraphScan, log zerolog.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: log.With().Str("component", "search").Logger()}
}

// Search tries Meilisearch if healthy, otherwise falls back to the scan.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to graph scan")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("graph scan search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexContent indexes a content record (fire-and-forget to Meilisearch).
func (s *Service) IndexContent(record ContentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexContent(record); err != nil {
			s.log.Warn().Err(err).Str("content_id", record.ID).Msg("index content")
		}
	}()
}

// Refresh rebuilds the record of one content from the graph store and
// indexes it.
func (s *Service) Refresh(ctx context.Context, contentID string) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	record, err := s.fallback.Record(ctx, contentID)
	if err != nil {
		s.log.Warn().Err(err).Str("content_id", contentID).Msg("build index record")
		return
	}
	s.IndexContent(record)
}

// ReindexAll pushes every content in the graph store to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexContents(records); err != nil {
		s.log.Error().Err(err).Int("records", len(records)).Msg("reindex contents")
		return
	}
	s.log.Info().Int("records", len(records)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
