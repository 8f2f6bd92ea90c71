package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type fakeBlobArchiver struct {
	txCutoff    time.Time
	cycleCutoff time.Time
	txErr       error
}

func (f *fakeBlobArchiver) ArchiveTransactions(_ context.Context, before time.Time) (int64, error) {
	f.txCutoff = before
	return 4, f.txErr
}

func (f *fakeBlobArchiver) ArchiveCycles(_ context.Context, before time.Time) (int64, error) {
	f.cycleCutoff = before
	return 2, nil
}

func TestArchiverRunCutoff(t *testing.T) {
	t.Parallel()
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 3, 31, 4, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	rep, err := a.Run(context.Background())
	assert.NoError(t, err)
	check.Equal(t, time.Date(2026, 3, 1, 4, 30, 0, 0, time.UTC), blob.txCutoff)
	check.Equal(t, blob.txCutoff, blob.cycleCutoff)
	check.Equal(t, blob.txCutoff, rep.Cutoff)
	check.Equal(t, int64(4), rep.Transactions)
	check.Equal(t, int64(2), rep.Cycles)
}

func TestArchiverRunContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	down := errors.New("bucket unreachable")
	blob := &fakeBlobArchiver{txErr: down}
	a := NewArchiver(blob, 7, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rep, err := a.Run(context.Background())
	check.True(t, errors.Is(err, down))
	check.False(t, blob.cycleCutoff.IsZero())
	check.Equal(t, int64(2), rep.Cycles)
}

func TestCronNext(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 4, 10, 7, 30, 0, time.UTC) // a Wednesday
	for _, tc := range []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 4, 10, 8, 0, 0, time.UTC)},
		{"30 4 * * *", time.Date(2026, 3, 5, 4, 30, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)},
		{"0 9-17 * * *", time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},
		{"5,50 10 * * *", time.Date(2026, 3, 4, 10, 50, 0, 0, time.UTC)},
		{"0 0 * * 7", time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"0 12 29 2 *", time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC)},
		{"10/20 * * * *", time.Date(2026, 3, 4, 10, 10, 0, 0, time.UTC)},
		// Both day fields restricted: the 10th or any Friday.
		{"0 6 10 * 5", time.Date(2026, 3, 6, 6, 0, 0, 0, time.UTC)},
	} {
		c, err := parseCron(tc.expr)
		assert.NoError(t, err)
		got, err := c.next(base)
		assert.NoError(t, err)
		check.Equal(t, tc.want, got)
	}
}

func TestCronRejectsInvalid(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"@often",
	} {
		_, err := parseCron(expr)
		check.Error(t, err)
	}
}

func TestCronNoMatch(t *testing.T) {
	t.Parallel()
	c, err := parseCron("0 0 31 2 *")
	assert.NoError(t, err)
	_, err = c.next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	check.Error(t, err)
}

func TestRunCronStopsOnCancel(t *testing.T) {
	t.Parallel()
	a := NewArchiver(&fakeBlobArchiver{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.RunCron(ctx, "0 3 * * *")
	check.True(t, errors.Is(err, context.Canceled))
}

type countingArchiver struct {
	runs chan struct{}
}

func (c *countingArchiver) ArchiveTransactions(context.Context, time.Time) (int64, error) {
	c.runs <- struct{}{}
	return 0, nil
}

func (c *countingArchiver) ArchiveCycles(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestRunCronManualTrigger(t *testing.T) {
	t.Parallel()
	blob := &countingArchiver{runs: make(chan struct{}, 1)}
	trigger := make(chan struct{}, 1)
	a := NewArchiver(blob, 1, slog.New(slog.NewTextHandler(io.Discard, nil))).WithTrigger(trigger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 3 1 1 *") }()

	trigger <- struct{}{}
	select {
	case <-blob.runs:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered run did not start")
	}
	cancel()
	check.True(t, errors.Is(<-done, context.Canceled))
}
