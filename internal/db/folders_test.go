package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/taxonomy"
	"github.com/meridianhq/mailsync/internal/testutil"
)

func TestUpsertFolderCreateThenUpdate(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	folder := &models.Folder{
		AccountID:   account.ID,
		ExternalID:  "f-1",
		DisplayName: "Inbox",
		Canonical:   taxonomy.FolderInbox,
	}
	created, err := db.UpsertFolder(ctx, pool, folder)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, folder.ID)

	folder.DisplayName = "Posteingang"
	created, err = db.UpsertFolder(ctx, pool, folder)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := db.GetFolderByExternalID(ctx, pool, account.ID, "f-1")
	require.NoError(t, err)
	assert.Equal(t, "Posteingang", got.DisplayName)
}

func TestUpsertFolderDeltaTokenInvalidation(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	base := models.Folder{
		AccountID:        account.ID,
		ExternalID:       "f-1",
		DisplayName:      "Receipts",
		Canonical:        taxonomy.FolderSystem,
		ParentExternalID: "f-root",
	}

	tests := []struct {
		name       string
		mutate     func(f *models.Folder)
		keepsToken bool
	}{
		{"unchanged", func(f *models.Folder) {}, true},
		{"child count only", func(f *models.Folder) { f.ChildFolderCount = 3 }, true},
		{"renamed", func(f *models.Folder) { f.DisplayName = "Old receipts" }, false},
		{"reparented", func(f *models.Folder) { f.ParentExternalID = "f-archive" }, false},
		{"canonical changed", func(f *models.Folder) { f.Canonical = taxonomy.FolderArchive }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folder := base
			folder.ExternalID = "f-" + tt.name
			_, err := db.UpsertFolder(ctx, pool, &folder)
			require.NoError(t, err)
			require.NoError(t, db.SetFolderDeltaToken(ctx, pool, account.ID, folder.ExternalID, "cursor-1"))

			tt.mutate(&folder)
			_, err = db.UpsertFolder(ctx, pool, &folder)
			require.NoError(t, err)

			got, err := db.GetFolderByExternalID(ctx, pool, account.ID, folder.ExternalID)
			require.NoError(t, err)
			if tt.keepsToken {
				assert.Equal(t, "cursor-1", got.DeltaToken)
			} else {
				assert.Empty(t, got.DeltaToken)
			}
		})
	}
}

func TestDeleteFoldersNotIn(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	testutil.CreateTestFolder(t, pool, account.ID, "f-1", "Inbox", taxonomy.FolderInbox)
	testutil.CreateTestFolder(t, pool, account.ID, "f-2", "Project", taxonomy.FolderSystem)
	testutil.CreateTestFolder(t, pool, account.ID, "f-3", "Trash", taxonomy.FolderTrash)

	deleted, err := db.DeleteFoldersNotIn(ctx, pool, account.ID, []string{"f-1", "f-3"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	folders, err := db.ListFolders(ctx, pool, account.ID)
	require.NoError(t, err)
	require.Len(t, folders, 2)

	// A nil keep set means the provider reported no folders at all.
	deleted, err = db.DeleteFoldersNotIn(ctx, pool, account.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestGetFolderByCanonicalPicksFirstByName(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, pool, "user-1", "me@example.com")

	testutil.CreateTestFolder(t, pool, account.ID, "f-b", "Papierkorb", taxonomy.FolderTrash)
	testutil.CreateTestFolder(t, pool, account.ID, "f-a", "Deleted Items", taxonomy.FolderTrash)

	got, err := db.GetFolderByCanonical(ctx, pool, account.ID, string(taxonomy.FolderTrash))
	require.NoError(t, err)
	assert.Equal(t, "f-a", got.ExternalID)

	_, err = db.GetFolderByCanonical(ctx, pool, account.ID, string(taxonomy.FolderSpam))
	assert.ErrorIs(t, err, db.ErrFolderNotFound)
}
