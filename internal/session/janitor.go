// Package session expires drafts that have been idle for too long and tells
// the conversation partner their report was discarded.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/scheduler"
)

// Defaults for the idle sweep.
const (
	DefaultIdleTimeout = 24 * time.Hour
	DefaultSweepCron   = "*/15 * * * *"
)

// DraftLister lists stored flow states. store.FlowStateStore satisfies it.
type DraftLister interface {
	ListFlowStates(flowType string) ([]models.FlowState, error)
}

// Expirer discards a draft that has not been touched since cutoff. *flow.Engine satisfies it.
type Expirer interface {
	Expire(ctx context.Context, conversationID string, cutoff time.Time) (bool, error)
}

// Notifier tells a conversation its draft expired. *messaging.Presenter satisfies it.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}

// Opts configures a Janitor.
type Opts struct {
	IdleTimeout time.Duration
	Notifier    Notifier
	Now         func() time.Time
}

// Option configures a Janitor.
type Option func(*Opts)

// WithIdleTimeout sets how long a draft may sit untouched.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// WithNotifier sets who is told about expired drafts.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Janitor removes idle drafts.
type Janitor struct {
	drafts   DraftLister
	expirer  Expirer
	notifier Notifier
	idle     time.Duration
	now      func() time.Time
}

// NewJanitor creates a Janitor.
func NewJanitor(drafts DraftLister, expirer Expirer, opts ...Option) *Janitor {
	cfg := Opts{IdleTimeout: DefaultIdleTimeout, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Janitor{
		drafts:   drafts,
		expirer:  expirer,
		notifier: cfg.Notifier,
		idle:     cfg.IdleTimeout,
		now:      cfg.Now,
	}
}

// Sweep expires every draft idle for longer than the timeout and returns how
// many were discarded. Failures on single drafts are logged and skipped.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	slog.Debug("Janitor Sweep invoked", "idleTimeout", j.idle)
	states, err := j.drafts.ListFlowStates(string(models.FlowTypeReport))
	if err != nil {
		return 0, fmt.Errorf("list drafts: %w", err)
	}

	cutoff := j.now().Add(-j.idle)
	expired := 0
	for _, st := range states {
		if !st.UpdatedAt.Before(cutoff) {
			continue
		}
		ok, err := j.expirer.Expire(ctx, st.ParticipantID, cutoff)
		if err != nil {
			slog.Error("Janitor failed to expire draft", "error", err, "conversationID", st.ParticipantID)
			continue
		}
		if !ok {
			continue
		}
		expired++
		if j.notifier != nil {
			if err := j.notifier.Notify(ctx, st.ParticipantID, flow.ExpiredNotice()); err != nil {
				slog.Warn("Janitor failed to notify conversation", "error", err, "conversationID", st.ParticipantID)
			}
		}
	}
	if expired > 0 {
		slog.Info("Janitor expired idle drafts", "count", expired)
	}
	return expired, nil
}

// Schedule runs Sweep on s according to expr (DefaultSweepCron if empty).
func (j *Janitor) Schedule(ctx context.Context, s *scheduler.Scheduler, expr string) error {
	if expr == "" {
		expr = DefaultSweepCron
	}
	return s.AddJob("draft-sweep", expr, func() {
		if _, err := j.Sweep(ctx); err != nil {
			slog.Error("Janitor sweep failed", "error", err)
		}
	})
}
