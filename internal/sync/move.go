package sync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
	"github.com/meridianhq/mailsync/internal/taxonomy"
)

// MoveToTrash moves a message to the account's trash folder, local record
// first, provider second. Flipping the local folder before the provider call
// completes keeps a concurrent sync pass from re-creating the message under
// its pre-move id. Providers that reassign ids on move get a reconciling
// patch afterwards: if a racing sync already inserted the message under the
// new id, that duplicate is deleted and the original record is patched in
// place, so exactly one record survives per logical message.
func MoveToTrash(ctx context.Context, pool *pgxpool.Pool, store *assets.Store, client provider.Client, accessToken string, account *models.Account, messageID string) error {
	msg, err := db.GetMessage(ctx, pool, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message %s: %w", messageID, err)
	}
	if msg.AccountID != account.ID {
		return db.ErrMessageNotFound
	}
	if msg.Folder == taxonomy.FolderTrash {
		return nil
	}

	trash, err := db.GetFolderByCanonical(ctx, pool, account.ID, string(taxonomy.FolderTrash))
	if err != nil {
		return fmt.Errorf("failed to find trash folder for account %s: %w", account.ID, err)
	}

	// Local first.
	if err := db.UpdateMessageFolder(ctx, pool, messageID, taxonomy.FolderTrash, trash.ExternalID); err != nil {
		return fmt.Errorf("failed to update message folder: %w", err)
	}

	newExternalID, err := client.MoveMessage(ctx, accessToken, msg.ExternalID, trash.ExternalID)
	if err != nil {
		// The local record already shows the message in trash. The next sync
		// pass merges the provider's view back if the move truly failed.
		return fmt.Errorf("failed to move message %s at provider: %w", msg.ExternalID, err)
	}

	if client.MovePreservesID() || newExternalID == msg.ExternalID {
		return nil
	}

	return reconcileMovedID(ctx, pool, store, account.ID, messageID, newExternalID)
}

// reconcileMovedID repairs the record after a provider reassigned the
// message's external id mid-move. A sync pass racing the move may have
// inserted the message under the new id already; that duplicate loses and
// the original record is patched to the new id.
func reconcileMovedID(ctx context.Context, pool *pgxpool.Pool, store *assets.Store, accountID, messageID, newExternalID string) error {
	duplicate, err := db.GetMessageByExternalID(ctx, pool, accountID, newExternalID)
	switch {
	case err == nil && duplicate.ID != messageID:
		bodyAssetID, found, err := db.DeleteMessageByID(ctx, pool, duplicate.ID)
		if err != nil {
			return fmt.Errorf("failed to delete duplicate message %s: %w", duplicate.ID, err)
		}
		if found && bodyAssetID != nil {
			if err := store.Release(ctx, *bodyAssetID); err != nil {
				log.Printf("Warning: failed to release body asset %s: %v", *bodyAssetID, err)
			}
		}
	case err != nil && !errors.Is(err, db.ErrMessageNotFound):
		return fmt.Errorf("failed to check for duplicate under id %s: %w", newExternalID, err)
	}

	if err := db.PatchMessageExternalID(ctx, pool, messageID, newExternalID); err != nil {
		return fmt.Errorf("failed to patch message external id: %w", err)
	}
	return nil
}
