// Package sync contains the reconciliation engine: folder mirroring, the
// idempotent message upsert, trash-move race repair, and the per-account
// orchestrator that drives them on a schedule.
package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
)

// FolderOutcome reports per-folder reconciliation counts. Failed counts
// folders whose upsert failed; those failures do not abort the batch.
type FolderOutcome struct {
	Created int
	Updated int
	Deleted int
	Failed  int
}

// ReconcileFolders makes the local folder set match the provider's current
// listing. Folders absent from the listing are deleted along with their
// messages; the listing is the source of truth, not a cache to refresh.
func ReconcileFolders(ctx context.Context, pool *pgxpool.Pool, store *assets.Store, accountID string, listing []provider.Folder) (FolderOutcome, error) {
	var outcome FolderOutcome

	seen := make(map[string]bool, len(listing))
	keep := make([]string, 0, len(listing))

	for _, remote := range listing {
		if remote.ExternalID == "" || seen[remote.ExternalID] {
			continue
		}
		seen[remote.ExternalID] = true
		keep = append(keep, remote.ExternalID)

		folder := folderFromProvider(accountID, remote)
		created, err := db.UpsertFolder(ctx, pool, folder)
		if err != nil {
			log.Printf("Warning: failed to upsert folder %s for account %s: %v", remote.ExternalID, accountID, err)
			outcome.Failed++
			continue
		}
		if created {
			outcome.Created++
		} else {
			outcome.Updated++
		}
	}

	// Collect the stale folders' external ids before deleting so their
	// messages and body assets go with them.
	existing, err := db.ListFolders(ctx, pool, accountID)
	if err != nil {
		return outcome, fmt.Errorf("failed to list folders for account %s: %w", accountID, err)
	}

	var stale []string
	for _, folder := range existing {
		if !seen[folder.ExternalID] {
			stale = append(stale, folder.ExternalID)
		}
	}

	if len(stale) > 0 {
		assetIDs, err := db.DeleteMessagesInFolders(ctx, pool, accountID, stale)
		if err != nil {
			return outcome, fmt.Errorf("failed to delete messages in stale folders: %w", err)
		}
		store.ReleaseAll(ctx, assetIDs)

		deleted, err := db.DeleteFoldersNotIn(ctx, pool, accountID, keep)
		if err != nil {
			return outcome, fmt.Errorf("failed to delete stale folders: %w", err)
		}
		outcome.Deleted = deleted
	}

	return outcome, nil
}

func folderFromProvider(accountID string, remote provider.Folder) *models.Folder {
	return &models.Folder{
		AccountID:        accountID,
		ExternalID:       remote.ExternalID,
		DisplayName:      remote.DisplayName,
		Canonical:        remote.Canonical,
		ParentExternalID: remote.ParentExternalID,
		ChildFolderCount: remote.ChildFolderCount,
	}
}
