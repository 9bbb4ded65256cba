package knowledge

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// Okapi BM25 parameters.
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// Field weights for ranking.
const (
	weightTitle = 3
	weightTags  = 2
	weightBody  = 1
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// MemoryBackend is an in-process BM25 index. Each write rebuilds an
// immutable snapshot, so searches never block on writers.
type MemoryBackend struct {
	mu       sync.Mutex
	articles map[string]domain.Article
	snapshot *bm25Index
	snapMu   sync.RWMutex
}

// NewMemoryBackend creates an empty index.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{articles: map[string]domain.Article{}}
	m.publish()
	return m
}

// Search implements Backend.
func (m *MemoryBackend) Search(ctx context.Context, query string, limit int) ([]domain.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.snapMu.RLock()
	idx := m.snapshot
	m.snapMu.RUnlock()
	return idx.search(query, limit), nil
}

// Index implements Backend.
func (m *MemoryBackend) Index(ctx context.Context, article domain.Article) error {
	return m.BulkIndex(ctx, []domain.Article{article})
}

// BulkIndex implements Backend.
func (m *MemoryBackend) BulkIndex(ctx context.Context, articles []domain.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range articles {
		a.Score = 0
		a.Tags = append([]string(nil), a.Tags...)
		m.articles[a.ID] = a
	}
	m.publish()
	return nil
}

// Reset implements Backend.
func (m *MemoryBackend) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles = map[string]domain.Article{}
	m.publish()
	return nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// publish must be called with mu held.
func (m *MemoryBackend) publish() {
	docs := make([]domain.Article, 0, len(m.articles))
	for _, a := range m.articles {
		docs = append(docs, a)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	idx := newBM25Index(docs)

	m.snapMu.Lock()
	m.snapshot = idx
	m.snapMu.Unlock()
}

type bm25Index struct {
	docs      []domain.Article
	termFreqs []map[string]int
	lengths   []int
	avgLength float64
	idf       map[string]float64
}

func newBM25Index(docs []domain.Article) *bm25Index {
	idx := &bm25Index{
		docs:      docs,
		termFreqs: make([]map[string]int, len(docs)),
		lengths:   make([]int, len(docs)),
		idf:       map[string]float64{},
	}

	docFreq := map[string]int{}
	total := 0
	for i, d := range docs {
		tokens := compositeTokens(d)
		idx.lengths[i] = len(tokens)
		total += len(tokens)

		tf := map[string]int{}
		for _, tok := range tokens {
			if tf[tok] == 0 {
				docFreq[tok]++
			}
			tf[tok]++
		}
		idx.termFreqs[i] = tf
	}
	if len(docs) > 0 {
		idx.avgLength = float64(total) / float64(len(docs))
	}

	n := float64(len(docs))
	for term, df := range docFreq {
		v := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		if v <= 0 {
			v = paramEpsilon
		}
		idx.idf[term] = v
	}
	return idx
}

func (idx *bm25Index) search(query string, limit int) []domain.Article {
	terms := tokenize(query)
	if len(terms) == 0 || len(idx.docs) == 0 {
		return []domain.Article{}
	}

	results := make([]domain.Article, 0)
	for i, d := range idx.docs {
		if score := idx.score(i, terms); score > 0 {
			d.Score = score
			d.Tags = append([]string(nil), d.Tags...)
			results = append(results, d)
		}
	}
	// docs are sorted by id, so a stable sort breaks ties by id
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (idx *bm25Index) score(i int, terms []string) float64 {
	tf := idx.termFreqs[i]
	dl := float64(idx.lengths[i])
	var score float64
	for _, term := range terms {
		idf, ok := idx.idf[term]
		if !ok {
			continue
		}
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		score += idf * (f * (paramK1 + 1)) / (f + paramK1*(1-paramB+paramB*dl/idx.avgLength))
	}
	return score
}

// compositeTokens repeats each field's tokens by its weight.
func compositeTokens(a domain.Article) []string {
	var tokens []string
	add := func(text string, weight int) {
		t := tokenize(text)
		for i := 0; i < weight; i++ {
			tokens = append(tokens, t...)
		}
	}
	add(a.Title, weightTitle)
	add(strings.Join(a.Tags, " "), weightTags)
	add(a.Body, weightBody)
	return tokens
}

// tokenize splits text into lowercase alphanumeric tokens of two or more characters.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, m := range matches {
		if len(m) >= 2 {
			tokens = append(tokens, m)
		}
	}
	return tokens
}
