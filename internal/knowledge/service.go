// Package knowledge provides ranked knowledge-base lookup for the response engine.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// Backend is a search index holding knowledge-base articles.
type Backend interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Article, error)
	Index(ctx context.Context, article domain.Article) error
	BulkIndex(ctx context.Context, articles []domain.Article) error
	// Reset drops every article and recreates an empty index.
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Open returns the backend for rawURL: memory:// for the in-process index,
// http(s):// for Elasticsearch.
func Open(rawURL, index string) (Backend, error) {
	switch {
	case strings.HasPrefix(rawURL, "memory://"):
		return NewMemoryBackend(), nil
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return NewElasticBackend(rawURL, index)
	default:
		return nil, fmt.Errorf("unsupported search url %q", rawURL)
	}
}

// SearchObserver is notified of fail-open search errors.
type SearchObserver interface {
	SearchFailed()
}

// Service wraps a Backend with fail-open search and index rebuilds.
type Service struct {
	backend  Backend
	source   Source
	observer SearchObserver
}

// NewService creates a knowledge service. A nil source rebuilds from the
// built-in seed catalog.
func NewService(backend Backend, source Source, observer SearchObserver) *Service {
	if source == nil {
		source = SeedSource{}
	}
	return &Service{backend: backend, source: source, observer: observer}
}

// Search returns at most limit articles in non-increasing relevance order
// with bodies cut to excerpts. Backend failures yield an empty list.
func (s *Service) Search(ctx context.Context, query string, limit int) []domain.Article {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []domain.Article{}
	}
	articles, err := s.backend.Search(ctx, query, limit)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("knowledge search failed, continuing without articles")
		if s.observer != nil {
			s.observer.SearchFailed()
		}
		return []domain.Article{}
	}

	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Score > articles[j].Score
	})
	if len(articles) > limit {
		articles = articles[:limit]
	}
	for i := range articles {
		articles[i].Body = articles[i].Excerpt()
	}
	return articles
}

// Index adds or replaces one article.
func (s *Service) Index(ctx context.Context, article domain.Article) error {
	if err := validateArticle(article); err != nil {
		return err
	}
	return domain.E(domain.ErrSearchUnavailable, "knowledge.index", s.backend.Index(ctx, article))
}

// BulkIndex adds or replaces many articles.
func (s *Service) BulkIndex(ctx context.Context, articles []domain.Article) error {
	for _, a := range articles {
		if err := validateArticle(a); err != nil {
			return err
		}
	}
	if len(articles) == 0 {
		return nil
	}
	return domain.E(domain.ErrSearchUnavailable, "knowledge.bulk_index", s.backend.BulkIndex(ctx, articles))
}

// RebuildIndex reloads the source catalog into a fresh index and returns
// the number of articles indexed.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	const op = "knowledge.rebuild"
	articles, err := s.source.Articles(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load knowledge source: %w", err)
	}
	if err := s.backend.Reset(ctx); err != nil {
		return 0, domain.E(domain.ErrSearchUnavailable, op, err)
	}
	if err := s.BulkIndex(ctx, articles); err != nil {
		return 0, err
	}
	log.FromCtx(ctx).Info().Int("articles", len(articles)).Msg("knowledge base rebuilt")
	return len(articles), nil
}

// Ping reports backend reachability.
func (s *Service) Ping(ctx context.Context) error {
	return domain.E(domain.ErrSearchUnavailable, "knowledge.ping", s.backend.Ping(ctx))
}

func validateArticle(a domain.Article) error {
	switch {
	case a.ID == "":
		return domain.NewValidationError("id", "is required")
	case a.Title == "":
		return domain.NewValidationError("title", "is required")
	}
	return nil
}
