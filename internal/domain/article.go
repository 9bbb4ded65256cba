package domain

import "unicode/utf8"

// ExcerptLength bounds the article text handed to the model.
const ExcerptLength = 500

// Article is a knowledge-base article.
type Article struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Body     string   `json:"content" yaml:"body"`
	URL      string   `json:"url" yaml:"url"`
	Category string   `json:"category,omitempty" yaml:"category"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
	// Score is set at query time only.
	Score float64 `json:"relevance_score" yaml:"-"`
}

// Excerpt returns the body truncated to ExcerptLength characters.
func (a Article) Excerpt() string {
	if utf8.RuneCountInString(a.Body) <= ExcerptLength {
		return a.Body
	}
	r := []rune(a.Body)
	return string(r[:ExcerptLength]) + "..."
}
