package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	"github.com/xiaot623/gogo/helpdesk/internal/queue"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
	"github.com/xiaot623/gogo/helpdesk/tests/helpers"
)

func TestMaintenanceRefreshGauges(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t, store.Options{})
	q := helpers.NewTestQueue(t, queue.Options{})
	m := metrics.New(prometheus.NewRegistry())

	for _, id := range []string{"a", "b"} {
		_, err := st.GetOrCreate(ctx, id, "u", domain.ChannelWeb, nil)
		require.NoError(t, err)
	}
	require.NoError(t, q.Enqueue(ctx, &domain.QueueItem{Kind: domain.KindWidget, Payload: json.RawMessage(`{}`)}))

	NewMaintenance(st, q, m, MaintenanceOptions{}).RefreshGauges(ctx)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueuePending))
}

func TestMaintenanceReapsIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := helpers.NewTestSQLiteStore(t, store.Options{TTL: time.Hour, Now: clock})
	q := helpers.NewTestQueue(t, queue.Options{})

	_, err := st.GetOrCreate(ctx, "old", "u", domain.ChannelWeb, nil)
	require.NoError(t, err)
	now = now.Add(40 * time.Minute)
	_, err = st.GetOrCreate(ctx, "fresh", "u", domain.ChannelWeb, nil)
	require.NoError(t, err)

	NewMaintenance(st, q, nil, MaintenanceOptions{SessionIdle: 30 * time.Minute}).ReapSessions(ctx)

	_, err = st.Get(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = st.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMaintenanceRunStopsWithContext(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t, store.Options{})
	q := helpers.NewTestQueue(t, queue.Options{})
	mt := NewMaintenance(st, q, metrics.New(prometheus.NewRegistry()), MaintenanceOptions{GaugesSpec: "@every 10ms"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mt.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance did not stop")
	}
}

func TestMaintenanceRejectsBadSchedule(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t, store.Options{})
	q := helpers.NewTestQueue(t, queue.Options{})
	err := NewMaintenance(st, q, nil, MaintenanceOptions{ReapSpec: "every now and then"}).Run(context.Background())
	assert.Error(t, err)
}
