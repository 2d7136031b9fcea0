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

func TestReconcileFoldersCreatesUpdatesAndDeletes(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	listing := []provider.Folder{
		{ExternalID: "f-inbox", DisplayName: "Inbox", Canonical: taxonomy.FolderInbox},
		{ExternalID: "f-sent", DisplayName: "Sent Items", Canonical: taxonomy.FolderSent},
	}

	outcome, err := ReconcileFolders(ctx, pool, store, account.ID, listing)
	require.NoError(t, err)
	assert.Equal(t, FolderOutcome{Created: 2}, outcome)

	// Second listing renames one folder and drops the other.
	listing = []provider.Folder{
		{ExternalID: "f-inbox", DisplayName: "Posteingang", Canonical: taxonomy.FolderInbox},
	}

	outcome, err = ReconcileFolders(ctx, pool, store, account.ID, listing)
	require.NoError(t, err)
	assert.Equal(t, FolderOutcome{Updated: 1, Deleted: 1}, outcome)

	folders, err := db.ListFolders(ctx, pool, account.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "Posteingang", folders[0].DisplayName)
}

func TestReconcileFoldersRenameClearsDeltaToken(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	listing := []provider.Folder{
		{ExternalID: "f-inbox", DisplayName: "Inbox", Canonical: taxonomy.FolderInbox},
	}
	_, err := ReconcileFolders(ctx, pool, store, account.ID, listing)
	require.NoError(t, err)
	require.NoError(t, db.SetFolderDeltaToken(ctx, pool, account.ID, "f-inbox", "cursor-1"))

	// An unchanged listing keeps the cursor.
	_, err = ReconcileFolders(ctx, pool, store, account.ID, listing)
	require.NoError(t, err)
	folder, err := db.GetFolderByExternalID(ctx, pool, account.ID, "f-inbox")
	require.NoError(t, err)
	assert.Equal(t, "cursor-1", folder.DeltaToken)

	// A rename invalidates it so the next fetch is a full sync.
	listing[0].DisplayName = "Posteingang"
	_, err = ReconcileFolders(ctx, pool, store, account.ID, listing)
	require.NoError(t, err)
	folder, err = db.GetFolderByExternalID(ctx, pool, account.ID, "f-inbox")
	require.NoError(t, err)
	assert.Empty(t, folder.DeltaToken)
}

func TestReconcileFoldersDeletesMessagesWithStaleFolder(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	listing := []provider.Folder{
		{ExternalID: "f-inbox", DisplayName: "Inbox", Canonical: taxonomy.FolderInbox},
		{ExternalID: "f-project", DisplayName: "Project", Canonical: taxonomy.FolderSystem},
	}
	_, err := ReconcileFolders(ctx, pool, store, account.ID, listing)
	require.NoError(t, err)

	incoming := inboxMessage("m-1", "Project mail", false)
	incoming.Folder = taxonomy.FolderSystem
	incoming.FolderExternalID = "f-project"
	bodies := map[string]provider.Body{"m-1": {Content: []byte("body"), ContentType: "text/plain"}}
	_, err = UpsertMessages(ctx, pool, store, account, []provider.Message{incoming}, bodies)
	require.NoError(t, err)

	// The folder disappears from the next listing.
	outcome, err := ReconcileFolders(ctx, pool, store, account.ID, listing[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Deleted)

	_, err = db.GetMessageByExternalID(ctx, pool, account.ID, "m-1")
	assert.ErrorIs(t, err, db.ErrMessageNotFound)

	_, _, err = store.Get(ctx, assets.AddressFor(account.Provider, "m-1"))
	assert.ErrorIs(t, err, db.ErrAssetNotFound)
}
