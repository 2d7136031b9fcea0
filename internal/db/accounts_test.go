package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/testutil"
)

func TestMarkSyncStartedClaimsAccountOnce(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	claimed, err := db.MarkSyncStarted(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A racing second trigger loses the claim.
	claimed, err = db.MarkSyncStarted(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, db.MarkSyncFinished(ctx, pool, account.ID, nil, false))

	got, err := db.GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSyncing)
	assert.Nil(t, got.LastSyncError)
	require.NotNil(t, got.LastSyncAt)

	// Finishing releases the claim for the next pass.
	claimed, err = db.MarkSyncStarted(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMarkSyncFinishedTransientErrorKeepsAccountDue(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	require.NoError(t, db.MarkSyncFinished(ctx, pool, account.ID, errors.New("connection reset"), false))

	got, err := db.GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncError)
	assert.Equal(t, "connection reset", *got.LastSyncError)
	assert.False(t, got.SyncHalted)

	// The failed pass still stamped last_sync_at, so the account becomes due
	// again once the interval elapses.
	due, err := db.ListAccountsDueForSync(ctx, pool, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, account.ID, due[0].ID)
}

func TestMarkSyncFinishedHaltRemovesAccountFromSweep(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	require.NoError(t, db.MarkSyncFinished(ctx, pool, account.ID, errors.New("token revoked"), true))

	got, err := db.GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.True(t, got.SyncHalted)

	due, err := db.ListAccountsDueForSync(ctx, pool, 0)
	require.NoError(t, err)
	assert.Empty(t, due, "halted account must not be picked up again")
}

func TestListAccountsDueForSync(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	never := testutil.CreateTestAccount(t, pool, "user-1", "never@example.com")
	recent := testutil.CreateTestAccount(t, pool, "user-2", "recent@example.com")
	syncing := testutil.CreateTestAccount(t, pool, "user-3", "syncing@example.com")

	require.NoError(t, db.MarkSyncFinished(ctx, pool, recent.ID, nil, false))
	_, err := db.MarkSyncStarted(ctx, pool, syncing.ID)
	require.NoError(t, err)

	due, err := db.ListAccountsDueForSync(ctx, pool, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, never.ID, due[0].ID)
}

func TestUpdateAccountTokens(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	expiresAt := time.Now().Add(45 * time.Minute).UTC()
	err := db.UpdateAccountTokens(ctx, pool, account.ID, "new-access", []byte("new-refresh"), expiresAt)
	require.NoError(t, err)

	got, err := db.GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, []byte("new-refresh"), got.EncryptedRefreshToken)
	assert.WithinDuration(t, expiresAt, got.TokenExpiresAt, time.Second)
}

func TestGetAccountForUser(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	got, err := db.GetAccountForUser(ctx, pool, "user-1", models.ProviderOutlook)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	_, err = db.GetAccountForUser(ctx, pool, "user-1", models.ProviderGmail)
	assert.ErrorIs(t, err, db.ErrAccountNotFound)
}
