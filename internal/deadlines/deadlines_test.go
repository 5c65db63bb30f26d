package deadlines_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/concord/internal/deadlines"
	"github.com/JaimeStill/concord/pkg/lifecycle"
)

type fakeSweeper struct {
	calls atomic.Int32
	n     int
	err   error
}

func (f *fakeSweeper) SweepDeadlines(ctx context.Context, now time.Time) (int, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep context has no deadline")
	}
	return f.n, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigDefaults(t *testing.T) {
	var cfg deadlines.Config
	require.NoError(t, cfg.Finalize(nil))

	assert.False(t, cfg.Disabled)
	assert.Equal(t, "@every 1m", cfg.Schedule)
	assert.Equal(t, 30*time.Second, cfg.TimeoutDuration())
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("TEST_DEADLINES_DISABLED", "true")
	t.Setenv("TEST_DEADLINES_SCHEDULE", "*/5 * * * *")

	cfg := deadlines.Config{}
	require.NoError(t, cfg.Finalize(&deadlines.Env{
		Disabled: "TEST_DEADLINES_DISABLED",
		Schedule: "TEST_DEADLINES_SCHEDULE",
	}))

	assert.True(t, cfg.Disabled)
	assert.Equal(t, "*/5 * * * *", cfg.Schedule)
}

func TestConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  deadlines.Config
	}{
		{"bad schedule", deadlines.Config{Schedule: "every minute"}},
		{"bad timeout", deadlines.Config{Timeout: "soon"}},
		{"zero timeout", deadlines.Config{Timeout: "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Finalize(nil))
		})
	}
}

func TestMerge(t *testing.T) {
	base := deadlines.Config{Schedule: "@every 1m", Timeout: "30s"}
	base.Merge(&deadlines.Config{Disabled: true, Schedule: "@hourly"})

	assert.True(t, base.Disabled)
	assert.Equal(t, "@hourly", base.Schedule)
	assert.Equal(t, "30s", base.Timeout)
}

func TestSweepAppliesTimeout(t *testing.T) {
	cfg := &deadlines.Config{}
	require.NoError(t, cfg.Finalize(nil))

	sweeper := &fakeSweeper{n: 2}
	s := deadlines.New(cfg, sweeper, discard())

	assert.Equal(t, 2, s.Sweep(context.Background()))
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestScheduledSweepRuns(t *testing.T) {
	cfg := &deadlines.Config{Schedule: "@every 1s"}
	require.NoError(t, cfg.Finalize(nil))

	sweeper := &fakeSweeper{}
	s := deadlines.New(cfg, sweeper, discard())

	lc := lifecycle.New()
	require.NoError(t, s.Start(lc))
	lc.WaitForStartup()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, lc.Shutdown(5*time.Second))
}

func TestDisabledSchedulesNothing(t *testing.T) {
	cfg := &deadlines.Config{Disabled: true}
	require.NoError(t, cfg.Finalize(nil))

	s := deadlines.New(cfg, &fakeSweeper{}, discard())

	lc := lifecycle.New()
	require.NoError(t, s.Start(lc))
	lc.WaitForStartup()
	require.NoError(t, lc.Shutdown(time.Second))
}
