package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/provider"
	"github.com/meridianhq/mailsync/internal/taxonomy"
	"github.com/meridianhq/mailsync/internal/testutil"
)

func TestMoveToTrashFlipsLocalRecordFirst(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")
	testutil.CreateTestFolder(t, pool, account.ID, "f-inbox", "Inbox", taxonomy.FolderInbox)
	testutil.CreateTestFolder(t, pool, account.ID, "f-trash", "Deleted Items", taxonomy.FolderTrash)

	_, err := UpsertMessages(ctx, pool, store, account, []provider.Message{inboxMessage("m-1", "Hello", true)}, nil)
	require.NoError(t, err)
	msg, err := db.GetMessageByExternalID(ctx, pool, account.ID, "m-1")
	require.NoError(t, err)

	client := &fakeClient{moveNewID: "m-1-moved"}
	// Observe the local record while the provider call is still in flight.
	client.onMove = func() {
		inFlight, err := db.GetMessage(ctx, pool, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, taxonomy.FolderTrash, inFlight.Folder)
	}

	require.NoError(t, MoveToTrash(ctx, pool, store, client, "token", account, msg.ID))

	moved, err := db.GetMessage(ctx, pool, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, taxonomy.FolderTrash, moved.Folder)
	assert.Equal(t, "f-trash", moved.ProviderFolderID)
	assert.Equal(t, "m-1-moved", moved.ExternalID)
	assert.Equal(t, 1, client.moveCalls)
}

func TestMoveToTrashReconcilesRacingDuplicate(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")
	testutil.CreateTestFolder(t, pool, account.ID, "f-inbox", "Inbox", taxonomy.FolderInbox)
	trash := testutil.CreateTestFolder(t, pool, account.ID, "f-trash", "Deleted Items", taxonomy.FolderTrash)

	_, err := UpsertMessages(ctx, pool, store, account, []provider.Message{inboxMessage("m-1", "Hello", true)}, nil)
	require.NoError(t, err)
	original, err := db.GetMessageByExternalID(ctx, pool, account.ID, "m-1")
	require.NoError(t, err)

	client := &fakeClient{moveNewID: "m-1-moved"}
	// A sync pass races the move and inserts the message again under the
	// provider's newly assigned id before the move call returns.
	client.onMove = func() {
		racing := inboxMessage("m-1-moved", "Hello", true)
		racing.Folder = taxonomy.FolderTrash
		racing.FolderExternalID = trash.ExternalID
		_, err := UpsertMessages(ctx, pool, store, account, []provider.Message{racing}, nil)
		require.NoError(t, err)
	}

	require.NoError(t, MoveToTrash(ctx, pool, store, client, "token", account, original.ID))

	// Exactly one record survives: the original, patched to the new id.
	count, err := db.CountMessages(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	survivor, err := db.GetMessageByExternalID(ctx, pool, account.ID, "m-1-moved")
	require.NoError(t, err)
	assert.Equal(t, original.ID, survivor.ID)
	assert.Equal(t, taxonomy.FolderTrash, survivor.Folder)
}

func TestMoveToTrashIDPreservingProviderSkipsReconciliation(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")
	testutil.CreateTestFolder(t, pool, account.ID, "f-inbox", "Inbox", taxonomy.FolderInbox)
	testutil.CreateTestFolder(t, pool, account.ID, "f-trash", "Trash", taxonomy.FolderTrash)

	_, err := UpsertMessages(ctx, pool, store, account, []provider.Message{inboxMessage("m-1", "Hello", false)}, nil)
	require.NoError(t, err)
	msg, err := db.GetMessageByExternalID(ctx, pool, account.ID, "m-1")
	require.NoError(t, err)

	client := &fakeClient{movePreservesID: true}
	require.NoError(t, MoveToTrash(ctx, pool, store, client, "token", account, msg.ID))

	moved, err := db.GetMessage(ctx, pool, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "m-1", moved.ExternalID)
	assert.Equal(t, taxonomy.FolderTrash, moved.Folder)
}

func TestMoveToTrashAlreadyTrashedIsNoOp(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")
	trash := testutil.CreateTestFolder(t, pool, account.ID, "f-trash", "Trash", taxonomy.FolderTrash)

	incoming := inboxMessage("m-1", "Old", false)
	incoming.Folder = taxonomy.FolderTrash
	incoming.FolderExternalID = trash.ExternalID
	_, err := UpsertMessages(ctx, pool, store, account, []provider.Message{incoming}, nil)
	require.NoError(t, err)
	msg, err := db.GetMessageByExternalID(ctx, pool, account.ID, "m-1")
	require.NoError(t, err)

	client := &fakeClient{moveNewID: "never-used"}
	require.NoError(t, MoveToTrash(ctx, pool, store, client, "token", account, msg.ID))
	assert.Equal(t, 0, client.moveCalls)
}
