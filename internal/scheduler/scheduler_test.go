package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spraakbanken/mink-backend-sub000/internal/cache"
	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/registry"
	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, string) (remote.Result, error) {
	return remote.Result{}, nil
}

type noopCopier struct{}

func (noopCopier) Copy(context.Context, string, string, ...string) (remote.Result, error) {
	return remote.Result{}, nil
}

func newTestRegistry(t *testing.T, cfg *config.Config) *registry.Registry {
	t.Helper()
	return registry.New(cfg, cache.New(cache.NewMemory()), noopRunner{}, noopCopier{}, nil, nil)
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	t.Setenv("ADVANCE_SCHEDULE", "not a schedule")
	t.Setenv("INSTANCE_DIR", t.TempDir())
	cfg := config.Load()

	_, err := New(cfg, newTestRegistry(t, cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse advance schedule")
}

func TestNewAcceptsDescriptorAndCronSyntax(t *testing.T) {
	for _, schedule := range []string{"@every 20s", "*/5 * * * *", "@hourly"} {
		t.Setenv("ADVANCE_SCHEDULE", schedule)
		t.Setenv("INSTANCE_DIR", t.TempDir())
		cfg := config.Load()

		_, err := New(cfg, newTestRegistry(t, cfg))
		assert.NoError(t, err, schedule)
	}
}

func TestDisabledSchedulerDoesNothing(t *testing.T) {
	t.Setenv("ADVANCE_ENABLED", "false")
	t.Setenv("INSTANCE_DIR", t.TempDir())
	cfg := config.Load()

	s, err := New(cfg, newTestRegistry(t, cfg))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Start(ctx)
	s.Stop(ctx)
}

func TestStartStop(t *testing.T) {
	t.Setenv("ADVANCE_SCHEDULE", "@every 10ms")
	t.Setenv("INSTANCE_DIR", t.TempDir())
	cfg := config.Load()

	s, err := New(cfg, newTestRegistry(t, cfg))
	require.NoError(t, err)

	ctx := context.Background()
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)
}
