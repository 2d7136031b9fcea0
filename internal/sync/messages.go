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

// subjectPlaceholder stands in for an absent subject so list views never
// render a blank line.
const subjectPlaceholder = "(no subject)"

// UpsertResult reports what one upsert batch did. Stored counts new inserts,
// Deleted counts tombstone removals, Migrated counts existing records whose
// sync-owned fields were merged.
type UpsertResult struct {
	Stored   int
	Deleted  int
	Migrated int
}

// UpsertMessages applies one batch of provider messages to the local index.
// The operation is idempotent per message, keyed by (accountID, externalID):
// tombstones delete, known messages get a narrow field merge, unknown
// messages are inserted in full. One message's failure never aborts the rest
// of the batch.
//
// bodies optionally carries pre-fetched message bodies keyed by external id.
// A body staged for a message that turns out to already exist is dropped
// without ever creating an asset reference.
func UpsertMessages(ctx context.Context, pool *pgxpool.Pool, store *assets.Store, account *models.Account, batch []provider.Message, bodies map[string]provider.Body) (UpsertResult, error) {
	var result UpsertResult
	var firstErr error

	for _, incoming := range batch {
		if incoming.ExternalID == "" {
			continue
		}

		if incoming.Removed {
			deleted, err := deleteTombstoned(ctx, pool, store, account.ID, incoming.ExternalID)
			if err != nil {
				log.Printf("Warning: failed to delete message %s for account %s: %v", incoming.ExternalID, account.ID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if deleted {
				result.Deleted++
			}
			continue
		}

		_, err := db.GetMessageByExternalID(ctx, pool, account.ID, incoming.ExternalID)
		switch {
		case err == nil:
			// Only the fields that legitimately drift out-of-band are merged.
			// A stale poll result must not clobber fresher local state such
			// as an optimistic trash move.
			canonical := resolveCanonical(ctx, pool, account.ID, incoming)
			resolution := models.DeriveResolution(account.EmailAddress, incoming.From, incoming.Unread())
			if err := db.MergeMessageSyncFields(ctx, pool, account.ID, incoming.ExternalID, canonical, incoming.FolderExternalID, incoming.States, resolution); err != nil {
				log.Printf("Warning: failed to merge message %s for account %s: %v", incoming.ExternalID, account.ID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			result.Migrated++

		case errors.Is(err, db.ErrMessageNotFound):
			created, err := insertMessage(ctx, pool, store, account, incoming, bodies)
			if err != nil {
				log.Printf("Warning: failed to insert message %s for account %s: %v", incoming.ExternalID, account.ID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if created {
				result.Stored++
			} else {
				// A racing writer inserted the row between the lookup and
				// here; this write converged into a merge.
				result.Migrated++
			}

		default:
			log.Printf("Warning: failed to look up message %s for account %s: %v", incoming.ExternalID, account.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return result, firstErr
}

// deleteTombstoned removes a message the provider reports as gone. Absence
// is a no-op: the tombstone may arrive after the record was already removed.
func deleteTombstoned(ctx context.Context, pool *pgxpool.Pool, store *assets.Store, accountID, externalID string) (bool, error) {
	bodyAssetID, found, err := db.DeleteMessageByExternalID(ctx, pool, accountID, externalID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if bodyAssetID != nil {
		if err := store.Release(ctx, *bodyAssetID); err != nil {
			log.Printf("Warning: failed to release body asset %s: %v", *bodyAssetID, err)
		}
	}
	return true, nil
}

// insertMessage stores one unknown message, staging its body asset first.
// Returns false when a racing writer already created the row, in which case
// the insert converged into a merge and the speculative asset reference was
// dropped again.
func insertMessage(ctx context.Context, pool *pgxpool.Pool, store *assets.Store, account *models.Account, incoming provider.Message, bodies map[string]provider.Body) (bool, error) {
	msg := &models.Message{
		AccountID:        account.ID,
		ExternalID:       incoming.ExternalID,
		ExternalThreadID: incoming.ExternalThreadID,
		Subject:          incoming.Subject,
		Snippet:          incoming.Snippet,
		From:             incoming.From,
		To:               incoming.To,
		CC:               incoming.CC,
		Folder:           resolveCanonical(ctx, pool, account.ID, incoming),
		States:           incoming.States,
		ProviderFolderID: incoming.FolderExternalID,
		Resolution:       models.DeriveResolution(account.EmailAddress, incoming.From, incoming.Unread()),
	}

	if msg.Subject == "" {
		msg.Subject = subjectPlaceholder
	}
	if !incoming.ReceivedAt.IsZero() {
		msg.ReceivedAt = incoming.ReceivedAt.UnixMilli()
	}
	if msg.To == nil {
		msg.To = []models.Recipient{}
	}

	body, hasBody := bodies[incoming.ExternalID]
	if hasBody {
		assetID := assets.AddressFor(account.Provider, incoming.ExternalID)
		if _, err := store.Acquire(ctx, assetID, body.Content, body.ContentType); err != nil {
			return false, fmt.Errorf("failed to store body asset: %w", err)
		}
		msg.BodyAssetID = &assetID
	}

	created, err := db.InsertMessage(ctx, pool, msg)
	// The speculative asset reference must not outlive a failed insert, and
	// on a lost race the winner's row owns its own reference already.
	if (err != nil || !created) && msg.BodyAssetID != nil {
		if releaseErr := store.Release(ctx, *msg.BodyAssetID); releaseErr != nil {
			log.Printf("Warning: failed to release body asset %s after insert fallthrough: %v", *msg.BodyAssetID, releaseErr)
		}
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

// resolveCanonical picks the message's canonical folder. The delta path
// already stamps it from the folder being synced; single fetches only carry
// the provider folder id, which resolves against the local folder mirror.
func resolveCanonical(ctx context.Context, pool *pgxpool.Pool, accountID string, incoming provider.Message) taxonomy.CanonicalFolder {
	if taxonomy.ValidFolder(incoming.Folder) {
		return incoming.Folder
	}
	if incoming.FolderExternalID != "" {
		if folder, err := db.GetFolderByExternalID(ctx, pool, accountID, incoming.FolderExternalID); err == nil {
			return folder.Canonical
		}
	}
	return taxonomy.FolderSystem
}
