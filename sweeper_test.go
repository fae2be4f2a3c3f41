package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperStartRunsImmediately(t *testing.T) {
	t.Parallel()

	repo, db := newTestRepo(t)
	svc := NewVerificationService(repo)

	user := createTestUser(t, repo)
	insertVerification(t, db, user.ID, "stale-token", "", "", time.Now().Add(-VerificationTTL-time.Minute))

	fresh, err := svc.Issue(context.Background(), user.ID, IntentConfirm{})
	require.NoError(t, err)

	sweeper := NewSweeper(svc)
	require.NoError(t, sweeper.Start(context.Background()))
	defer sweeper.Stop()

	// the first sweep runs before Start returns
	assert.Equal(t, 1, countVerifications(t, db))

	require.NoError(t, svc.Redeem(context.Background(), user.ID, fresh))
}

func TestSweeperStopWithoutStart(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	sweeper := NewSweeper(NewVerificationService(repo))

	assert.NotPanics(t, sweeper.Stop)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	sweeper := NewSweeper(NewVerificationService(repo)).WithSchedule("not a cron spec")

	assert.Error(t, sweeper.Start(context.Background()))
}
