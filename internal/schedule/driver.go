// Package schedule owns the periodic trigger for dispatch runs: the
// single-flight guard, the consecutive-failure breaker and the cumulative
// statistics.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"billnotif/internal/alert"
	"billnotif/internal/dispatch"
	"billnotif/internal/domain"
	"billnotif/internal/observability"
)

type State string

const (
	StateStopped  State = "stopped"
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
)

var allStates = []State{StateStopped, StateIdle, StateRunning, StateDisabled}

type Runner interface {
	Run(ctx context.Context, trigger dispatch.Trigger) (dispatch.RunSummary, error)
}

type Config struct {
	// Schedule is a cron expression (seconds optional) or descriptor such as "@every 10m".
	Schedule string
	Location *time.Location
	// MaxConsecutiveErrors disables the periodic trigger once reached. Zero means never.
	MaxConsecutiveErrors int
	AlertTimeout         time.Duration
}

// Status is a point-in-time view of the driver.
type Status struct {
	State                State      `json:"state"`
	Running              bool       `json:"running"`
	Enabled              bool       `json:"enabled"`
	Schedule             string     `json:"schedule"`
	Timezone             string     `json:"timezone"`
	NextRunAt            *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt            *time.Time `json:"lastRunAt,omitempty"`
	LastRunID            string     `json:"lastRunId,omitempty"`
	ConsecutiveErrors    int        `json:"consecutiveErrors"`
	MaxConsecutiveErrors int        `json:"maxConsecutiveErrors"`
	LastError            string     `json:"lastError,omitempty"`
}

type Driver struct {
	runner  Runner
	stats   *dispatch.Stats
	alerter alert.Alerter
	parser  cron.Parser
	loc     *time.Location

	threshold    int
	alertTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	expr        string
	sched       cron.Schedule
	c           *cron.Cron
	running     bool
	disabled    bool
	consecutive int
	lastRunAt   *time.Time
	lastRunID   string
	lastErr     string
}

func New(r Runner, stats *dispatch.Stats, a alert.Alerter, cfg Config) (*Driver, error) {
	if r == nil {
		return nil, errors.New("schedule: runner is required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	if stats == nil {
		stats = dispatch.NewStats(nil)
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = 30 * time.Second
	}
	d := &Driver{
		runner:       r,
		stats:        stats,
		alerter:      a,
		parser:       cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:          loc,
		threshold:    cfg.MaxConsecutiveErrors,
		alertTimeout: cfg.AlertTimeout,
		now:          time.Now,
	}
	sched, err := d.parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	d.expr, d.sched = strings.TrimSpace(cfg.Schedule), sched
	d.mu.Lock()
	d.setStateLocked()
	d.mu.Unlock()
	return d, nil
}

func (d *Driver) parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty schedule", domain.ErrValidation)
	}
	sched, err := d.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", domain.ErrValidation, expr, err)
	}
	return sched, nil
}

// Start arms the periodic trigger. Starting an armed driver is a no-op; a
// disabled driver must be restarted instead.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disabled {
		return domain.ErrBreakerOpen
	}
	if d.c != nil {
		return nil
	}
	d.armLocked()
	slog.Info("dispatch schedule started", "schedule", d.expr, "tz", d.loc.String(), "next_run_at", d.nextLocked())
	return nil
}

// Stop tears down the periodic trigger and waits, bounded by ctx, for an
// in-flight scheduled run to finish. The run itself is never cancelled.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.setStateLocked()
	d.mu.Unlock()
	if c == nil {
		return nil
	}
	slog.Info("dispatch schedule stopped")
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart re-enables the driver, zeroes the consecutive-error counter and
// re-arms the periodic trigger, optionally with a new recurrence. An invalid
// recurrence leaves everything unchanged.
func (d *Driver) Restart(recurrence string) error {
	var sched cron.Schedule
	if strings.TrimSpace(recurrence) != "" {
		s, err := d.parse(recurrence)
		if err != nil {
			return err
		}
		sched = s
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if sched != nil {
		d.expr, d.sched = strings.TrimSpace(recurrence), sched
	}
	d.disarmLocked()
	d.disabled = false
	d.consecutive = 0
	observability.ConsecutiveErrors.Set(0)
	d.armLocked()
	slog.Info("dispatch schedule restarted", "schedule", d.expr, "next_run_at", d.nextLocked())
	return nil
}

// TriggerNow runs a dispatch immediately. It fails with domain.ErrBreakerOpen
// while disabled and domain.ErrAlreadyRunning when a run is in flight.
// Manual runs do not count toward the breaker. Cancelling ctx does not stop
// the run once it has begun.
func (d *Driver) TriggerNow(ctx context.Context) (dispatch.RunSummary, error) {
	return d.runOnce(ctx, dispatch.TriggerManual)
}

func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		State:                d.stateLocked(),
		Running:              d.running,
		Enabled:              !d.disabled,
		Schedule:             d.expr,
		Timezone:             d.loc.String(),
		LastRunID:            d.lastRunID,
		ConsecutiveErrors:    d.consecutive,
		MaxConsecutiveErrors: d.threshold,
		LastError:            d.lastErr,
	}
	if d.c != nil {
		next := d.nextLocked()
		st.NextRunAt = &next
	}
	if d.lastRunAt != nil {
		at := *d.lastRunAt
		st.LastRunAt = &at
	}
	return st
}

func (d *Driver) Statistics() dispatch.Statistics { return d.stats.Snapshot() }

func (d *Driver) ResetStatistics() { d.stats.Reset() }

func (d *Driver) tick() {
	sum, err := d.runOnce(context.Background(), dispatch.TriggerScheduled)
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		slog.Info("scheduled dispatch skipped, run in progress")
	case errors.Is(err, errNotArmed), errors.Is(err, domain.ErrBreakerOpen):
	case err != nil:
		slog.Error("scheduled dispatch failed", "run_id", sum.RunID, "err", err)
	}
}

var errNotArmed = errors.New("schedule not armed")

func (d *Driver) runOnce(ctx context.Context, trigger dispatch.Trigger) (sum dispatch.RunSummary, err error) {
	d.mu.Lock()
	switch {
	case d.disabled:
		d.mu.Unlock()
		return sum, domain.ErrBreakerOpen
	case trigger == dispatch.TriggerScheduled && d.c == nil:
		d.mu.Unlock()
		return sum, errNotArmed
	case d.running:
		d.mu.Unlock()
		return sum, domain.ErrAlreadyRunning
	}
	d.running = true
	d.setStateLocked()
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch run panic: %v", r)
			sum.Trigger = trigger
			sum.Failed = true
			sum.FailureReason = err.Error()
			sum.Errors = 1
			sum.FinishedAt = d.now()
		}
		d.finish(trigger, sum, err)
	}()
	return d.runner.Run(context.WithoutCancel(ctx), trigger)
}

// finish records the run and releases the single-flight flag.
func (d *Driver) finish(trigger dispatch.Trigger, sum dispatch.RunSummary, err error) {
	d.stats.Record(sum)
	failed := err != nil || sum.Failed

	var tripped *alert.Alert
	d.mu.Lock()
	d.running = false
	at := sum.FinishedAt
	if at.IsZero() {
		at = d.now()
	}
	d.lastRunAt = &at
	d.lastRunID = sum.RunID
	if failed {
		d.lastErr = sum.FailureReason
		if err != nil {
			d.lastErr = err.Error()
		}
	}
	if trigger == dispatch.TriggerScheduled {
		if failed {
			d.consecutive++
		} else {
			d.consecutive = 0
		}
		observability.ConsecutiveErrors.Set(float64(d.consecutive))
		if d.threshold > 0 && d.consecutive >= d.threshold && !d.disabled {
			d.disabled = true
			d.disarmLocked()
			last := sum
			tripped = &alert.Alert{
				Kind:              alert.KindBreakerOpen,
				Message:           fmt.Sprintf("billing notice dispatch disabled after %d consecutive failed runs", d.consecutive),
				ConsecutiveErrors: d.consecutive,
				Threshold:         d.threshold,
				LastError:         d.lastErr,
				LastRun:           &last,
				At:                at,
			}
		}
	}
	d.setStateLocked()
	d.mu.Unlock()

	if tripped != nil {
		slog.Error("dispatch breaker open", "consecutive_errors", tripped.ConsecutiveErrors, "last_error", tripped.LastError)
		d.raise(*tripped)
	}
}

func (d *Driver) raise(a alert.Alert) {
	if d.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.alertTimeout)
	defer cancel()
	if err := d.alerter.NotifyCritical(ctx, a); err != nil {
		slog.Error("breaker alert not delivered", "err", err)
	}
}

// nextLocked is the next tick on the driver's wall clock; cron fires on the
// same location.
func (d *Driver) nextLocked() time.Time {
	return d.sched.Next(d.now().In(d.loc))
}

// armLocked schedules ticks; call with d.mu held.
func (d *Driver) armLocked() {
	d.c = cron.New(cron.WithParser(d.parser), cron.WithLocation(d.loc))
	d.c.Schedule(d.sched, cron.FuncJob(d.tick))
	d.c.Start()
	d.setStateLocked()
}

// disarmLocked drops the periodic trigger without waiting for a running tick,
// which may be the caller.
func (d *Driver) disarmLocked() {
	if d.c == nil {
		return
	}
	d.c.Stop()
	d.c = nil
}

func (d *Driver) stateLocked() State {
	switch {
	case d.disabled:
		return StateDisabled
	case d.running:
		return StateRunning
	case d.c != nil:
		return StateIdle
	default:
		return StateStopped
	}
}

func (d *Driver) setStateLocked() {
	cur := d.stateLocked()
	for _, s := range allStates {
		v := 0.0
		if s == cur {
			v = 1
		}
		observability.DriverState.WithLabelValues(string(s)).Set(v)
	}
}
