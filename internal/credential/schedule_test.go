package credential

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewScheduler_SkipsDisabledJobs(t *testing.T) {
	f := newLocalFixture(t, RoleVerifier, "", false)

	s, err := NewScheduler(context.Background(), f.coordinator, ScheduleConfig{
		ReconcileInterval: time.Minute,
		PurgeInterval:     time.Hour,
		Clock:             f.clock,
	})
	require.NoError(t, err)
	assert.Len(t, s.scheduler.Jobs(), 2)

	s.Start()
	s.Stop()
}

func Test_Scheduler_Tasks(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, RoleIssuer, issuerAccount)
	c := f.coordinator
	c.db = newTestStore(t)

	s, err := NewScheduler(ctx, c, ScheduleConfig{Clock: f.clock})
	require.NoError(t, err)

	a, err := c.IssueCredential(ctx, issueRequest(issuerAccount.Hex(), "s-1"))
	require.NoError(t, err)
	b, err := c.IssueCredential(ctx, issueRequest(issuerAccount.Hex(), "s-2"))
	require.NoError(t, err)
	_, err = c.VerifyCredential(ctx, b.Fingerprint)
	require.NoError(t, err)

	_, err = f.memory.Signer(adminAccount).RevokeCredential(ctx, common.HexToHash(a.Fingerprint))
	require.NoError(t, err)
	s.reconcile()
	local, err := c.Credential(a.Fingerprint)
	require.NoError(t, err)
	assert.True(t, local.IsRevoked)

	f.clock.Advance(25 * time.Hour)
	assert.Equal(t, 1, c.CacheStats().Expired)
	s.purge()
	assert.Zero(t, c.CacheStats().Total)

	require.NoError(t, c.db.RecordPauseAttempt("pause"))
	s.cleanupAttempts()
	n, err := c.db.GetRecentPauseAttempts("pause", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func Test_Scheduler_ReconcileStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newLedgerFixture(t, RoleIssuer, issuerAccount)

	s, err := NewScheduler(ctx, f.coordinator, ScheduleConfig{})
	require.NoError(t, err)

	rec, err := f.coordinator.IssueCredential(context.Background(), issueRequest(issuerAccount.Hex(), "s-1"))
	require.NoError(t, err)
	_, err = f.memory.Signer(adminAccount).RevokeCredential(context.Background(), common.HexToHash(rec.Fingerprint))
	require.NoError(t, err)

	cancel()
	s.reconcile()
	local, err := f.coordinator.Credential(rec.Fingerprint)
	require.NoError(t, err)
	assert.False(t, local.IsRevoked)
}
