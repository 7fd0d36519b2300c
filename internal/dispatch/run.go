package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"billnotif/internal/domain"
	"billnotif/internal/observability"
	"billnotif/internal/util"
)

type RecipientScanner interface {
	Scan(ctx context.Context, now time.Time) ([]domain.EligibleRecipient, error)
}

type RecipientProcessor interface {
	Process(ctx context.Context, er domain.EligibleRecipient) (Outcome, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Runner performs one full scan-and-process cycle.
type Runner struct {
	Scanner   RecipientScanner
	Processor RecipientProcessor
	// Health is checked before scanning when set.
	Health        HealthChecker
	HealthTimeout time.Duration
	// Delay separates successive recipients; the channels of one recipient
	// are not delayed.
	Delay time.Duration
	Now   func() time.Time
	IDGen func() string
}

// Run scans and processes recipients one at a time. A failure on one
// recipient is recorded and the loop moves on. A store failure before
// processing starts returns a failed summary together with the error.
func (r *Runner) Run(ctx context.Context, trigger Trigger) (RunSummary, error) {
	summary := RunSummary{
		RunID:     r.newID(),
		Trigger:   trigger,
		StartedAt: r.now(),
	}
	slog.Info("dispatch run start", "run_id", summary.RunID, "trigger", trigger)

	if err := r.checkHealth(ctx); err != nil {
		return r.fail(summary, err)
	}

	recipients, err := r.Scanner.Scan(ctx, summary.StartedAt)
	if err != nil {
		return r.fail(summary, err)
	}
	summary.RecipientsScanned = len(recipients)

	sentPrev := false
	for _, er := range recipients {
		if sentPrev && r.Delay > 0 {
			pause(ctx, r.Delay)
		}
		outcome, err := r.processOne(ctx, er)
		sentPrev = outcome.Attempted()
		summary.NotificationsSent += outcome.NotificationsSent()
		summary.ItemsMarked += outcome.ItemsMarked
		if err != nil {
			outcome.Error = err.Error()
			summary.Errors++
			summary.RecipientErrors = append(summary.RecipientErrors, RecipientError{
				RecipientID: er.Recipient.ID,
				Error:       err.Error(),
			})
			slog.Error("dispatch recipient failed",
				"run_id", summary.RunID,
				"recipient_id", er.Recipient.ID,
				"err", err,
			)
		} else {
			summary.RecipientsProcessed++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	summary.FinishedAt = r.now()
	observability.Runs.WithLabelValues(string(trigger), "ok").Inc()
	observability.RunDuration.Observe(summary.Duration().Seconds())
	slog.Info("dispatch run finish",
		"run_id", summary.RunID,
		"status", "ok",
		"scanned", summary.RecipientsScanned,
		"processed", summary.RecipientsProcessed,
		"notifications", summary.NotificationsSent,
		"errors", summary.Errors,
		"duration", summary.Duration(),
	)
	return summary, nil
}

// processOne isolates a recipient: a panic is turned into that recipient's error.
func (r *Runner) processOne(ctx context.Context, er domain.EligibleRecipient) (out Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{RecipientID: er.Recipient.ID}
			err = fmt.Errorf("recipient %s: panic: %v", er.Recipient.ID, rec)
		}
	}()
	return r.Processor.Process(ctx, er)
}

func (r *Runner) checkHealth(ctx context.Context) error {
	if r.Health == nil {
		return nil
	}
	hctx := ctx
	if r.HealthTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, r.HealthTimeout)
		defer cancel()
	}
	if err := r.Health.HealthCheck(hctx); err != nil {
		return fmt.Errorf("%w: store health check: %v", domain.ErrConnectivity, err)
	}
	return nil
}

func (r *Runner) fail(summary RunSummary, err error) (RunSummary, error) {
	if !errors.Is(err, domain.ErrConnectivity) {
		err = fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	summary.FinishedAt = r.now()
	summary.Failed = true
	summary.FailureReason = err.Error()
	summary.Errors = 1
	observability.Runs.WithLabelValues(string(summary.Trigger), "failed").Inc()
	observability.RunDuration.Observe(summary.Duration().Seconds())
	slog.Error("dispatch run finish",
		"run_id", summary.RunID,
		"status", "failed",
		"duration", summary.Duration(),
		"err", err,
	)
	return summary, err
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) newID() string {
	if r.IDGen != nil {
		return r.IDGen()
	}
	return util.NewRunID()
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
