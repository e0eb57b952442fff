package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirasaad/coopcredit/infra/scheduler"
	"github.com/amirasaad/coopcredit/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJobs(t *testing.T) {
	s := scheduler.New(time.UTC, testutils.DiscardLogger())
	var runs atomic.Int32
	require.NoError(t, s.Register("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("failures are logged, not fatal")
	}))
	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := scheduler.New(nil, nil)
	err := s.Register("bad", "every now and then", func(context.Context) error { return nil })
	assert.Error(t, err)
}
