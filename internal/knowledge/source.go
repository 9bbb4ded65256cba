package knowledge

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// Source supplies the full article catalog for a rebuild.
type Source interface {
	Articles(ctx context.Context) ([]domain.Article, error)
}

// FileSource reads a YAML catalog of the form:
//
//	articles:
//	  - id: kb-001
//	    title: How to Reset Your Password
//	    body: ...
//	    url: https://...
//	    category: account
//	    tags: [password, login]
type FileSource struct {
	Path string
}

type catalog struct {
	Articles []domain.Article `yaml:"articles"`
}

// Articles implements Source.
func (f FileSource) Articles(context.Context) ([]domain.Article, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var c catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.Path, err)
	}
	seen := make(map[string]bool, len(c.Articles))
	for i, a := range c.Articles {
		if a.ID == "" {
			return nil, fmt.Errorf("%s: article %d has no id", f.Path, i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%s: duplicate article id %q", f.Path, a.ID)
		}
		seen[a.ID] = true
	}
	return c.Articles, nil
}

// NewSource returns a FileSource for path, or the seed catalog when path is empty.
func NewSource(path string) Source {
	if path == "" {
		return SeedSource{}
	}
	return FileSource{Path: path}
}

// SeedSource is the built-in starter catalog.
type SeedSource struct{}

// Articles implements Source.
func (SeedSource) Articles(context.Context) ([]domain.Article, error) {
	return []domain.Article{
		{
			ID:       "kb-001",
			Title:    "How to Reset Your Password",
			Body:     "To reset your password, go to the login page and click 'Forgot Password'. Enter your email address and follow the instructions sent to your inbox.",
			Category: "account",
			Tags:     []string{"password", "security", "login"},
			URL:      "https://support.example.com/kb/reset-password",
		},
		{
			ID:       "kb-002",
			Title:    "Shipping and Delivery Information",
			Body:     "Standard shipping takes 5-7 business days. Express shipping is available for 2-3 day delivery. Free shipping on orders over $50.",
			Category: "shipping",
			Tags:     []string{"shipping", "delivery", "orders"},
			URL:      "https://support.example.com/kb/shipping-info",
		},
		{
			ID:       "kb-003",
			Title:    "Return and Refund Policy",
			Body:     "You can return items within 30 days of purchase for a full refund. Items must be unused and in original packaging. Refunds are processed within 5-7 business days.",
			Category: "returns",
			Tags:     []string{"returns", "refunds", "policy"},
			URL:      "https://support.example.com/kb/return-policy",
		},
		{
			ID:       "kb-004",
			Title:    "How to Track Your Order",
			Body:     "Once your order ships, you'll receive a tracking number via email. Use this number on our tracking page or the carrier's website to see real-time updates.",
			Category: "orders",
			Tags:     []string{"tracking", "orders", "shipping"},
			URL:      "https://support.example.com/kb/track-order",
		},
		{
			ID:       "kb-005",
			Title:    "Payment Methods Accepted",
			Body:     "We accept Visa, Mastercard, American Express, PayPal, and Apple Pay. All transactions are encrypted and secure.",
			Category: "billing",
			Tags:     []string{"payment", "billing", "security"},
			URL:      "https://support.example.com/kb/payment-methods",
		},
	}, nil
}
