package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// ElasticBackend stores articles in an Elasticsearch index.
type ElasticBackend struct {
	es    *elasticsearch.Client
	index string
}

// NewElasticBackend creates a client for addr. The index is created lazily
// by Reset or the first write.
func NewElasticBackend(addr, index string) (*ElasticBackend, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
		Transport: &http.Transport{ResponseHeaderTimeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	if index == "" {
		index = "kb_articles"
	}
	return &ElasticBackend{es: es, index: index}, nil
}

type esDocument struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	URL      string   `json:"url,omitempty"`
}

func toDocument(a domain.Article) esDocument {
	return esDocument{ID: a.ID, Title: a.Title, Content: a.Body, Category: a.Category, Tags: a.Tags, URL: a.URL}
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64    `json:"_score"`
			Source esDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"id": map[string]string{"type": "keyword"},
			"title": map[string]any{
				"type":   "text",
				"fields": map[string]any{"keyword": map[string]string{"type": "keyword"}},
			},
			"content":  map[string]string{"type": "text", "analyzer": "english"},
			"category": map[string]string{"type": "keyword"},
			"tags":     map[string]string{"type": "keyword"},
			"url":      map[string]string{"type": "keyword"},
		},
	},
}

// Search implements Backend.
func (b *ElasticBackend) Search(ctx context.Context, query string, limit int) ([]domain.Article, error) {
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"title^3", "content^1", "tags^2"},
				"type":   "best_fields",
			},
		},
		"size": limit,
	})
	if err != nil {
		return nil, err
	}

	res, err := b.es.Search(
		b.es.Search.WithContext(ctx),
		b.es.Search.WithIndex(b.index),
		b.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if err := responseError("search", res); err != nil {
		return nil, err
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	articles := make([]domain.Article, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		articles = append(articles, domain.Article{
			ID:       hit.Source.ID,
			Title:    hit.Source.Title,
			Body:     hit.Source.Content,
			URL:      hit.Source.URL,
			Category: hit.Source.Category,
			Tags:     hit.Source.Tags,
			Score:    hit.Score,
		})
	}
	return articles, nil
}

// Index implements Backend.
func (b *ElasticBackend) Index(ctx context.Context, article domain.Article) error {
	body, err := json.Marshal(toDocument(article))
	if err != nil {
		return err
	}
	res, err := b.es.Index(b.index, bytes.NewReader(body),
		b.es.Index.WithContext(ctx),
		b.es.Index.WithDocumentID(article.ID),
		b.es.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer res.Body.Close()
	return responseError("index", res)
}

// BulkIndex implements Backend.
func (b *ElasticBackend) BulkIndex(ctx context.Context, articles []domain.Article) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range articles {
		action := map[string]any{"index": map[string]string{"_index": b.index, "_id": a.ID}}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(toDocument(a)); err != nil {
			return err
		}
	}

	res, err := b.es.Bulk(bytes.NewReader(buf.Bytes()),
		b.es.Bulk.WithContext(ctx),
		b.es.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if err := responseError("bulk", res); err != nil {
		return err
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	for _, item := range parsed.Items {
		for _, r := range item {
			if r.Status >= 300 {
				return fmt.Errorf("bulk index of %q failed (status %d): %s", r.ID, r.Status, r.Error)
			}
		}
	}
	return fmt.Errorf("bulk index reported errors")
}

// Reset implements Backend.
func (b *ElasticBackend) Reset(ctx context.Context) error {
	res, err := b.es.Indices.Delete([]string{b.index},
		b.es.Indices.Delete.WithContext(ctx),
		b.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("delete index request failed: %w", err)
	}
	res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete index failed: %s", res.Status())
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return err
	}
	res, err = b.es.Indices.Create(b.index,
		b.es.Indices.Create.WithContext(ctx),
		b.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index request failed: %w", err)
	}
	defer res.Body.Close()
	return responseError("create index", res)
}

// Ping implements Backend.
func (b *ElasticBackend) Ping(ctx context.Context) error {
	res, err := b.es.Cluster.Health(b.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("cluster health request failed: %w", err)
	}
	defer res.Body.Close()
	return responseError("cluster health", res)
}

func responseError(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s failed (status %d): %s", op, res.StatusCode, string(body))
}
