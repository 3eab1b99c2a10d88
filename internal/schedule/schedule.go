// Package schedule refreshes an import source on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"datalink-sync/internal/importer"
	"datalink-sync/internal/session"
)

const DefaultHorizonDays = 7

// Refresher re-fetches one source into the session's review cache and
// optionally imports the pre-selected records.
type Refresher struct {
	sess       *session.Session
	source     string
	horizon    int
	autoImport bool
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	cron       *cron.Cron
}

type Option func(*Refresher)

// WithHorizon sets how many days ahead of today are fetched.
func WithHorizon(days int) Option {
	return func(r *Refresher) { r.horizon = days }
}

// WithAutoImport imports the pre-selected records after each fetch.
func WithAutoImport(on bool) Option {
	return func(r *Refresher) { r.autoImport = on }
}

func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Refresher) { r.logger = l }
}

func New(sess *session.Session, source string, opts ...Option) *Refresher {
	r := &Refresher{
		sess:    sess,
		source:  source,
		horizon: DefaultHorizonDays,
		timeout: time.Minute,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "schedule", "source", source)
	return r
}

// Criteria covers today through the horizon.
func (r *Refresher) Criteria() importer.Criteria {
	today := r.now()
	return importer.Criteria{
		From: today.Format(time.DateOnly),
		To:   today.AddDate(0, 0, r.horizon).Format(time.DateOnly),
	}
}

// Run performs one refresh.
func (r *Refresher) Run(ctx context.Context) error {
	c := r.Criteria()
	records, err := r.sess.Fetch(ctx, r.source, c)
	if err != nil {
		return err
	}
	r.logger.Info("refreshed", "records", len(records), "from", c.From, "to", c.To)
	if !r.autoImport {
		return nil
	}
	_, err = r.sess.Import(r.source, importer.Selection{Defaults: true})
	return err
}

// Start calls Run on expr, a standard five-field cron expression or a
// descriptor such as "@hourly". Overlapping runs are skipped.
func (r *Refresher) Start(expr string) error {
	cl := cronLogger{r.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(expr, r.tick); err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("schedule started", "expr", expr)
	return nil
}

func (r *Refresher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		r.logger.Warn("scheduled refresh failed", "err", err)
	}
}

// Stop stops the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("schedule stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
