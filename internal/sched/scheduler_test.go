package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubDispatcher struct {
	swept     int
	processed int
}

func (d *stubDispatcher) SweepPending(context.Context) (int, error) {
	d.swept++
	return d.swept, nil
}

func (d *stubDispatcher) ProcessDue(context.Context) (int, error) {
	d.processed++
	return d.processed, nil
}

type stubVerifier struct {
	fresh    int
	staged   int
	recredit int
	err      error
}

func (v *stubVerifier) RunFreshChecks(context.Context) (int, error) {
	v.fresh++
	return v.fresh, v.err
}

func (v *stubVerifier) RunStagedChecks(context.Context) (int, error) {
	v.staged++
	return v.staged, v.err
}

func (v *stubVerifier) SweepRecredits(context.Context) (int, error) {
	v.recredit++
	return v.recredit, v.err
}

type stubResetter struct {
	days []time.Time
}

func (r *stubResetter) ResetDaily(_ context.Context, day time.Time) (int, error) {
	r.days = append(r.days, day)
	return 1, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testConfig() Config {
	return Config{
		QuotaReset:    "0 0 * * *",
		ProcessQueue:  "*/2 * * * *",
		SweepPending:  "*/5 * * * *",
		FreshCheck:    "0 * * * *",
		StagedCheck:   "30 3 * * *",
		RecreditSweep: "0 4 * * *",
	}
}

func TestNewRegistersAllJobs(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(), &stubDispatcher{}, &stubVerifier{}, &stubResetter{},
		fixedClock{t: time.Now()}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 6)
}

func TestNewRejectsInvalidExpression(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.FreshCheck = "not a cron spec"
	_, err := New(cfg, &stubDispatcher{}, &stubVerifier{}, &stubResetter{},
		fixedClock{t: time.Now()}, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "fresh_check")
}

func TestNewSkipsEmptyExpressions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StagedCheck = ""
	cfg.RecreditSweep = ""
	s, err := New(cfg, &stubDispatcher{}, &stubVerifier{}, &stubResetter{},
		fixedClock{t: time.Now()}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 4)
}

func TestWrapInvokesJob(t *testing.T) {
	t.Parallel()

	disp := &stubDispatcher{}
	s, err := New(testConfig(), disp, &stubVerifier{}, &stubResetter{},
		fixedClock{t: time.Now()}, zap.NewNop())
	require.NoError(t, err)

	s.wrap("process_queue", disp.ProcessDue)()
	s.wrap("process_queue", disp.ProcessDue)()
	require.Equal(t, 2, disp.processed)
}

func TestWrapLogsFailureWithoutPanicking(t *testing.T) {
	t.Parallel()

	verifier := &stubVerifier{err: errors.New("checker unavailable")}
	s, err := New(testConfig(), &stubDispatcher{}, verifier, &stubResetter{},
		fixedClock{t: time.Now()}, zap.NewNop())
	require.NoError(t, err)

	require.NotPanics(t, func() {
		s.wrap("fresh_check", verifier.RunFreshChecks)()
	})
	require.Equal(t, 1, verifier.fresh)
}

func TestQuotaResetUsesClock(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	resetter := &stubResetter{}
	clock := fixedClock{t: day}

	s, err := New(testConfig(), &stubDispatcher{}, &stubVerifier{}, resetter, clock, zap.NewNop())
	require.NoError(t, err)

	s.wrap("quota_reset", func(ctx context.Context) (int, error) {
		return resetter.ResetDaily(ctx, clock.Now())
	})()
	require.Equal(t, []time.Time{day}, resetter.days)
}
