package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSchedulerRegistersConfiguredJobs(t *testing.T) {
	f := newFixture(t)
	archiver := NewLeaderboardArchiver(f.db, f.ledger.Ranks, nil, f.calendar, f.clock.Now, 10, discardLogger())

	sched, err := StartScheduler(context.Background(), time.UTC, Jobs{Archiver: archiver}, discardLogger())
	require.NoError(t, err)
	defer func() { _ = sched.Shutdown() }()

	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "leaderboard-snapshot", jobs[0].Name())

	require.Eventually(t, func() bool {
		next, err := jobs[0].NextRun()
		return err == nil && !next.IsZero()
	}, time.Second, 10*time.Millisecond)
	next, err := jobs[0].NextRun()
	require.NoError(t, err)
	assert.Equal(t, 23, next.In(time.UTC).Hour())
	assert.Equal(t, 55, next.In(time.UTC).Minute())
}

func TestStartSchedulerWithNothingToRun(t *testing.T) {
	sched, err := StartScheduler(context.Background(), time.UTC, Jobs{}, discardLogger())
	require.NoError(t, err)
	defer func() { _ = sched.Shutdown() }()
	assert.Empty(t, sched.Jobs())
}
