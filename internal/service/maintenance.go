package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	"github.com/xiaot623/gogo/helpdesk/internal/queue"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// MaintenanceOptions control the periodic housekeeping jobs.
type MaintenanceOptions struct {
	// SessionIdle is how long a session may sit idle before it is reaped.
	SessionIdle time.Duration
	// QueueMaxAge bounds how long an item may stay in the stream.
	QueueMaxAge time.Duration

	ReapSpec   string
	TrimSpec   string
	GaugesSpec string
}

func (o MaintenanceOptions) withDefaults() MaintenanceOptions {
	if o.SessionIdle <= 0 {
		o.SessionIdle = 24 * time.Hour
	}
	if o.QueueMaxAge <= 0 {
		o.QueueMaxAge = 24 * time.Hour
	}
	if o.ReapSpec == "" {
		o.ReapSpec = "@every 5m"
	}
	if o.TrimSpec == "" {
		o.TrimSpec = "@hourly"
	}
	if o.GaugesSpec == "" {
		o.GaugesSpec = "@every 15s"
	}
	return o
}

// Maintenance reaps idle sessions, trims the queue and refreshes gauges
// on a cron schedule.
type Maintenance struct {
	store   store.SessionStore
	queue   queue.Queue
	metrics *metrics.Metrics
	opts    MaintenanceOptions
	cron    *cron.Cron
}

// NewMaintenance creates the scheduler. m may be nil.
func NewMaintenance(st store.SessionStore, q queue.Queue, m *metrics.Metrics, opts MaintenanceOptions) *Maintenance {
	return &Maintenance{
		store:   st,
		queue:   q,
		metrics: m,
		opts:    opts.withDefaults(),
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}
}

// Run schedules the jobs and blocks until ctx ends, then waits for any
// running job to finish.
func (m *Maintenance) Run(ctx context.Context) error {
	jobs := []struct {
		spec string
		fn   func(context.Context)
	}{
		{m.opts.ReapSpec, m.ReapSessions},
		{m.opts.TrimSpec, m.TrimQueue},
		{m.opts.GaugesSpec, m.RefreshGauges},
	}
	for _, j := range jobs {
		fn := j.fn
		if _, err := m.cron.AddFunc(j.spec, func() { fn(ctx) }); err != nil {
			return err
		}
	}

	m.cron.Start()
	log.FromCtx(ctx).Info().Msg("maintenance scheduler started")
	m.RefreshGauges(ctx)

	<-ctx.Done()
	<-m.cron.Stop().Done()
	log.FromCtx(ctx).Info().Msg("maintenance scheduler stopped")
	return nil
}

// ReapSessions deletes sessions idle past SessionIdle.
func (m *Maintenance) ReapSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := m.store.Reap(ctx, m.opts.SessionIdle)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("session reap failed")
		return
	}
	if n > 0 {
		log.FromCtx(ctx).Info().Int("sessions", n).Msg("reaped idle sessions")
	}
}

// TrimQueue drops stream items older than QueueMaxAge.
func (m *Maintenance) TrimQueue(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := m.queue.TrimOlderThan(ctx, m.opts.QueueMaxAge)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("queue trim failed")
		return
	}
	if n > 0 {
		log.FromCtx(ctx).Info().Int64("items", n).Msg("trimmed old queue items")
	}
}

// RefreshGauges samples session and queue sizes into the metrics.
func (m *Maintenance) RefreshGauges(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if n, err := m.store.ActiveCount(ctx); err == nil {
		m.metrics.ActiveSessions.Set(float64(n))
	} else {
		log.FromCtx(ctx).Debug().Err(err).Msg("active session count unavailable")
	}
	if st, err := m.queue.Stats(ctx); err == nil {
		m.metrics.QueueDepth.Set(float64(st.Length))
		m.metrics.QueuePending.Set(float64(st.Pending))
	} else {
		log.FromCtx(ctx).Debug().Err(err).Msg("queue stats unavailable")
	}
}
