package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"billnotif/internal/alert"
	"billnotif/internal/dispatch"
	"billnotif/internal/domain"
)

type fakeRunner struct {
	mu    sync.Mutex
	err   error
	calls []dispatch.Trigger
	gate  chan struct{}
	entry chan struct{}
	n     atomic.Int32
}

func (r *fakeRunner) Run(ctx context.Context, trigger dispatch.Trigger) (dispatch.RunSummary, error) {
	r.n.Add(1)
	r.mu.Lock()
	r.calls = append(r.calls, trigger)
	err := r.err
	r.mu.Unlock()
	if r.entry != nil {
		r.entry <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	sum := dispatch.RunSummary{RunID: "run_x", Trigger: trigger, FinishedAt: time.Now()}
	if err != nil {
		sum.Failed = true
		sum.Errors = 1
		sum.FailureReason = err.Error()
	}
	return sum, err
}

func (r *fakeRunner) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (a *recordingAlerter) NotifyCritical(ctx context.Context, al alert.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func newDriver(t *testing.T, r Runner, a alert.Alerter, threshold int) *Driver {
	t.Helper()
	d, err := New(r, nil, a, Config{Schedule: "@every 1h", Location: time.UTC, MaxConsecutiveErrors: threshold})
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	if _, err := New(&fakeRunner{}, nil, nil, Config{Schedule: "not a cron"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartStopStates(t *testing.T) {
	d := newDriver(t, &fakeRunner{}, nil, 3)
	if st := d.Status(); st.State != StateStopped || st.NextRunAt != nil {
		t.Fatalf("expected stopped, got %+v", st)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := d.Status()
	if st.State != StateIdle || st.NextRunAt == nil {
		t.Fatalf("expected idle with next run, got %+v", st)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st := d.Status(); st.State != StateStopped {
		t.Fatalf("expected stopped, got %+v", st)
	}
}

func TestSingleFlight(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{}), entry: make(chan struct{}, 1)}
	d := newDriver(t, r, nil, 3)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.TriggerNow(context.Background())
		done <- err
	}()
	<-r.entry

	if st := d.Status(); st.State != StateRunning || !st.Running {
		t.Fatalf("expected running, got %+v", st)
	}
	if _, err := d.TriggerNow(context.Background()); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
	d.tick()
	if got := r.n.Load(); got != 1 {
		t.Fatalf("expected one run, got %d", got)
	}

	close(r.gate)
	if err := <-done; err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if st := d.Status(); st.State != StateIdle || st.Running {
		t.Fatalf("expected idle after run, got %+v", st)
	}
}

func TestConcurrentTriggersRunOnce(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{})}
	d := newDriver(t, r, nil, 3)

	var wg sync.WaitGroup
	var busy atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.TriggerNow(context.Background()); errors.Is(err, domain.ErrAlreadyRunning) {
				busy.Add(1)
			}
		}()
	}
	for busy.Load() < 7 {
		time.Sleep(time.Millisecond)
	}
	close(r.gate)
	wg.Wait()
	if got := r.n.Load(); got != 1 {
		t.Fatalf("expected exactly one run, got %d", got)
	}
}

func TestBreakerOpensAndRestartRecovers(t *testing.T) {
	r := &fakeRunner{err: errors.New("connectivity error: dial tcp")}
	a := &recordingAlerter{}
	d := newDriver(t, r, a, 3)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 3; i++ {
		d.tick()
	}
	st := d.Status()
	if st.State != StateDisabled || st.Enabled || st.ConsecutiveErrors != 3 || st.NextRunAt != nil {
		t.Fatalf("expected disabled, got %+v", st)
	}
	if len(a.alerts) != 1 || a.alerts[0].Kind != alert.KindBreakerOpen || a.alerts[0].LastRun == nil {
		t.Fatalf("expected one breaker alert, got %+v", a.alerts)
	}
	if _, err := d.TriggerNow(context.Background()); !errors.Is(err, domain.ErrBreakerOpen) {
		t.Fatalf("expected breaker open, got %v", err)
	}
	if err := d.Start(); !errors.Is(err, domain.ErrBreakerOpen) {
		t.Fatalf("start while disabled should fail, got %v", err)
	}

	if err := d.Restart(""); err != nil {
		t.Fatalf("restart: %v", err)
	}
	st = d.Status()
	if st.State != StateIdle || st.ConsecutiveErrors != 0 || !st.Enabled {
		t.Fatalf("expected idle after restart, got %+v", st)
	}
	if got := d.Statistics(); got.TotalRuns != 3 || got.FailedRuns != 3 {
		t.Fatalf("unexpected statistics %+v", got)
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	r := &fakeRunner{err: errors.New("boom")}
	d := newDriver(t, r, nil, 3)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.tick()
	d.tick()
	r.setErr(nil)
	d.tick()
	if st := d.Status(); st.ConsecutiveErrors != 0 || st.State != StateIdle {
		t.Fatalf("expected reset counter, got %+v", st)
	}
}

func TestManualFailuresDoNotCount(t *testing.T) {
	r := &fakeRunner{err: errors.New("boom")}
	d := newDriver(t, r, nil, 2)
	for i := 0; i < 5; i++ {
		if _, err := d.TriggerNow(context.Background()); err == nil {
			t.Fatalf("expected run error")
		}
	}
	st := d.Status()
	if st.ConsecutiveErrors != 0 || st.State == StateDisabled || st.LastError != "boom" {
		t.Fatalf("manual failures must not trip the breaker: %+v", st)
	}
}

func TestTickIgnoredWhenStopped(t *testing.T) {
	r := &fakeRunner{}
	d := newDriver(t, r, nil, 3)
	d.tick()
	if got := r.n.Load(); got != 0 {
		t.Fatalf("expected no run, got %d", got)
	}
}

func TestRestartWithNewSchedule(t *testing.T) {
	d := newDriver(t, &fakeRunner{}, nil, 3)
	if err := d.Restart("bogus"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if st := d.Status(); st.Schedule != "@every 1h" || st.State != StateStopped {
		t.Fatalf("invalid restart must not change state: %+v", st)
	}
	if err := d.Restart("0 */5 * * * *"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if st := d.Status(); st.Schedule != "0 */5 * * * *" || st.State != StateIdle {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStatisticsReset(t *testing.T) {
	d := newDriver(t, &fakeRunner{}, nil, 3)
	if _, err := d.TriggerNow(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got := d.Statistics(); got.TotalRuns != 1 || got.LastRun == nil {
		t.Fatalf("unexpected statistics %+v", got)
	}
	d.ResetStatistics()
	if got := d.Statistics(); got.TotalRuns != 0 {
		t.Fatalf("expected reset, got %+v", got)
	}
}

func TestNextRunUsesDriverLocation(t *testing.T) {
	loc := time.FixedZone("UTC+14", 14*3600)
	d, err := New(&fakeRunner{}, nil, nil, Config{Schedule: "0 0 9 * * *", Location: loc})
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	// 20:00 UTC is 10:00 next day in UTC+14, past that day's 09:00 tick.
	d.now = func() time.Time { return time.Date(2024, 4, 1, 20, 0, 0, 0, time.UTC) }
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := d.Status()
	if st.NextRunAt == nil {
		t.Fatalf("expected next run")
	}
	want := time.Date(2024, 4, 3, 9, 0, 0, 0, loc)
	if !st.NextRunAt.Equal(want) {
		t.Fatalf("next run %v, want %v", st.NextRunAt, want)
	}
}
