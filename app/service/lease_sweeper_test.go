package service

import (
	"context"
	"testing"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiredReclaimsStaleClaims(t *testing.T) {
	db := newTestDB(t)
	seedChannel(t, db, "A", true, 0)
	stale := seedTask(t, db, "A", model.PriorityNormal, model.StatusQueued, testEpoch)
	fresh := seedTask(t, db, "A", model.PriorityNormal, model.StatusCompositesReady, testEpoch.Add(time.Second))

	claimClock := newFakeClock(testEpoch, 0)
	claims := NewClaimSelector(db, 10*time.Minute, logger.NewNop())
	claims.SetClock(claimClock.Now)

	first, err := claims.Claim(context.Background(), "crashed", ClaimFilter{})
	require.NoError(t, err)
	require.Equal(t, stale.ID, first.ID)

	claimClock.Advance(8 * time.Minute)
	second, err := claims.Claim(context.Background(), "alive", ClaimFilter{})
	require.NoError(t, err)
	require.Equal(t, fresh.ID, second.ID)

	sweeper := NewLeaseSweeper(db, "", logger.NewNop())
	sweeper.SetClock(func() time.Time { return testEpoch.Add(12 * time.Minute) })

	n, err := sweeper.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reclaimed := reloadTask(t, db, stale.ID)
	assert.Equal(t, model.StatusQueued, reclaimed.Status)
	assert.Empty(t, reclaimed.ClaimedBy)
	assert.Contains(t, reclaimed.ErrorLog, "crashed")

	untouched := reloadTask(t, db, fresh.ID)
	assert.Equal(t, model.StatusGeneratingVideo, untouched.Status)
	assert.Equal(t, "alive", untouched.ClaimedBy)

	// 原 worker 之后的续约和结果写回都会被拒绝
	assert.ErrorIs(t, claims.Heartbeat(context.Background(), stale.ID, "crashed"), ErrTaskNotOwned)

	n, err = sweeper.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLeaseSweeperInvalidSchedule(t *testing.T) {
	sweeper := NewLeaseSweeper(nil, "every tuesday", logger.NewNop())
	assert.Error(t, sweeper.Start())
	sweeper.Stop()
}

func TestLeaseSweeperStartStop(t *testing.T) {
	db := newTestDB(t)
	sweeper := NewLeaseSweeper(db, "@every 1h", logger.NewNop())
	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}
