package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

func seededMemory(t *testing.T) *MemoryBackend {
	t.Helper()
	m := NewMemoryBackend()
	articles, err := SeedSource{}.Articles(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.BulkIndex(context.Background(), articles))
	return m
}

func TestMemorySearchRanksTitleMatches(t *testing.T) {
	m := seededMemory(t)
	got, err := m.Search(context.Background(), "How do I reset my password?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "kb-001", got[0].ID)
	assert.Greater(t, got[0].Score, 0.0)
}

func TestMemorySearchOrderAndLimit(t *testing.T) {
	m := seededMemory(t)
	for _, q := range []string{"shipping orders", "refund returns policy", "security", "track my order shipping"} {
		got, err := m.Search(context.Background(), q, 2)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), 2, q)
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score, q)
		}
	}
}

func TestMemorySearchTitleOutweighsBody(t *testing.T) {
	m := NewMemoryBackend()
	require.NoError(t, m.BulkIndex(context.Background(), []domain.Article{
		{ID: "a", Title: "Invoices", Body: "Billing questions and answers about accounts."},
		{ID: "b", Title: "Accounts", Body: "Invoices are sent monthly by email to the account owner."},
	}))
	got, err := m.Search(context.Background(), "invoices", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
}

func TestMemorySearchTiesBreakByID(t *testing.T) {
	m := NewMemoryBackend()
	require.NoError(t, m.BulkIndex(context.Background(), []domain.Article{
		{ID: "z", Title: "Same words", Body: "same"},
		{ID: "a", Title: "Same words", Body: "same"},
	}))
	got, err := m.Search(context.Background(), "same words", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "z", got[1].ID)
}

func TestMemoryReindexReplacesByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	require.NoError(t, m.Index(ctx, domain.Article{ID: "x", Title: "Old title"}))
	require.NoError(t, m.Index(ctx, domain.Article{ID: "x", Title: "Warranty claims"}))

	got, err := m.Search(ctx, "old", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.Search(ctx, "warranty", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Warranty claims", got[0].Title)

	require.NoError(t, m.Reset(ctx))
	got, err = m.Search(ctx, "warranty", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemorySearchNoTokens(t *testing.T) {
	m := seededMemory(t)
	got, err := m.Search(context.Background(), "? !", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
