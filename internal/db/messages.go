package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/taxonomy"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `
	id,
	account_id,
	external_id,
	external_thread_id,
	subject,
	snippet,
	from_name,
	from_email,
	to_recipients,
	cc_recipients,
	received_at,
	canonical_folder,
	canonical_states,
	provider_folder_id,
	resolution_state,
	body_asset_id`

func statesToStrings(states []taxonomy.CanonicalState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func stringsToStates(values []string) []taxonomy.CanonicalState {
	out := make([]taxonomy.CanonicalState, len(values))
	for i, v := range values {
		out[i] = taxonomy.CanonicalState(v)
	}
	return out
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var states []string
	err := row.Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.ExternalID,
		&msg.ExternalThreadID,
		&msg.Subject,
		&msg.Snippet,
		&msg.From.Name,
		&msg.From.Email,
		&msg.To,
		&msg.CC,
		&msg.ReceivedAt,
		&msg.Folder,
		&states,
		&msg.ProviderFolderID,
		&msg.Resolution,
		&msg.BodyAssetID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.States = stringsToStates(states)
	return &msg, nil
}

// InsertMessage saves a new message index record and populates its ID,
// returning true when a new row was created. Two writers racing on the same
// (account_id, external_id) converge: the loser's insert degrades to the same
// narrow merge a known message gets, leaving the winner's content fields
// alone.
func InsertMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.Message) (bool, error) {
	// nil CC stays NULL: the record carries no cc field at all when there
	// are no CC recipients.
	var created bool
	err := pool.QueryRow(ctx, `
		INSERT INTO messages (
			account_id,
			external_id,
			external_thread_id,
			subject,
			snippet,
			from_name,
			from_email,
			to_recipients,
			cc_recipients,
			received_at,
			canonical_folder,
			canonical_states,
			provider_folder_id,
			resolution_state,
			body_asset_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
			canonical_folder = EXCLUDED.canonical_folder,
			provider_folder_id = EXCLUDED.provider_folder_id,
			canonical_states = EXCLUDED.canonical_states,
			resolution_state = EXCLUDED.resolution_state
		RETURNING id, (xmax = 0)
	`,
		msg.AccountID,
		msg.ExternalID,
		msg.ExternalThreadID,
		msg.Subject,
		msg.Snippet,
		msg.From.Name,
		msg.From.Email,
		msg.To,
		msg.CC,
		msg.ReceivedAt,
		msg.Folder,
		statesToStrings(msg.States),
		msg.ProviderFolderID,
		msg.Resolution,
		msg.BodyAssetID,
	).Scan(&msg.ID, &created)

	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	return created, nil
}

// GetMessage returns a message by its local id.
func GetMessage(ctx context.Context, pool *pgxpool.Pool, messageID string) (*models.Message, error) {
	row := pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	return scanMessage(row)
}

// GetMessageByExternalID returns a message by (accountID, externalID).
func GetMessageByExternalID(ctx context.Context, pool *pgxpool.Pool, accountID, externalID string) (*models.Message, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE account_id = $1 AND external_id = $2
	`, accountID, externalID)
	return scanMessage(row)
}

// MergeMessageSyncFields reconciles only the fields that can legitimately
// drift out-of-band between polls: behavioral states, folder placement, and
// the derived resolution. It deliberately does not overwrite the rest of the
// record, since local optimistic state may be fresher than a stale poll.
func MergeMessageSyncFields(ctx context.Context, pool *pgxpool.Pool, accountID, externalID string, folder taxonomy.CanonicalFolder, providerFolderID string, states []taxonomy.CanonicalState, resolution models.ResolutionState) error {
	_, err := pool.Exec(ctx, `
		UPDATE messages
		SET canonical_folder = $3, provider_folder_id = $4, canonical_states = $5, resolution_state = $6
		WHERE account_id = $1 AND external_id = $2
	`, accountID, externalID, folder, providerFolderID, statesToStrings(states), resolution)
	if err != nil {
		return fmt.Errorf("failed to merge message sync fields: %w", err)
	}
	return nil
}

// UpdateMessageFolder flips a message's local folder placement. Used by
// user-initiated moves, which apply locally before the provider call.
func UpdateMessageFolder(ctx context.Context, pool *pgxpool.Pool, messageID string, folder taxonomy.CanonicalFolder, providerFolderID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE messages SET canonical_folder = $2, provider_folder_id = $3 WHERE id = $1
	`, messageID, folder, providerFolderID)
	if err != nil {
		return fmt.Errorf("failed to update message folder: %w", err)
	}
	return nil
}

// PatchMessageExternalID rewrites a message's external id in place after a
// provider move reassigned it.
func PatchMessageExternalID(ctx context.Context, pool *pgxpool.Pool, messageID, newExternalID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE messages SET external_id = $2 WHERE id = $1
	`, messageID, newExternalID)
	if err != nil {
		return fmt.Errorf("failed to patch message external id: %w", err)
	}
	return nil
}

// DeleteMessageByExternalID removes a message record, returning its body
// asset id (for reference release) and whether a record existed. Deleting an
// absent message is a no-op, so tombstones are idempotent.
func DeleteMessageByExternalID(ctx context.Context, pool *pgxpool.Pool, accountID, externalID string) (*string, bool, error) {
	var bodyAssetID *string
	err := pool.QueryRow(ctx, `
		DELETE FROM messages WHERE account_id = $1 AND external_id = $2
		RETURNING body_asset_id
	`, accountID, externalID).Scan(&bodyAssetID)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to delete message: %w", err)
	}

	return bodyAssetID, true, nil
}

// DeleteMessageByID removes a message record by local id, returning its body
// asset id for reference release.
func DeleteMessageByID(ctx context.Context, pool *pgxpool.Pool, messageID string) (*string, bool, error) {
	var bodyAssetID *string
	err := pool.QueryRow(ctx, `
		DELETE FROM messages WHERE id = $1
		RETURNING body_asset_id
	`, messageID).Scan(&bodyAssetID)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to delete message: %w", err)
	}

	return bodyAssetID, true, nil
}

// DeleteMessagesInFolders removes every message whose provider folder id is
// in the given set, returning the body asset ids that need their references
// released. Used when folder reconciliation deletes folders: no message may
// retain a reference to a folder that no longer exists.
func DeleteMessagesInFolders(ctx context.Context, pool *pgxpool.Pool, accountID string, folderExternalIDs []string) ([]string, error) {
	if len(folderExternalIDs) == 0 {
		return nil, nil
	}

	rows, err := pool.Query(ctx, `
		DELETE FROM messages
		WHERE account_id = $1 AND provider_folder_id = ANY($2)
		RETURNING body_asset_id
	`, accountID, folderExternalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to delete messages in folders: %w", err)
	}
	defer rows.Close()

	var assetIDs []string
	for rows.Next() {
		var assetID *string
		if err := rows.Scan(&assetID); err != nil {
			return nil, fmt.Errorf("failed to scan deleted message: %w", err)
		}
		if assetID != nil {
			assetIDs = append(assetIDs, *assetID)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deleted messages: %w", err)
	}

	return assetIDs, nil
}

// ListMessageAssetIDs returns every body asset id referenced by the
// account's messages. Used on disconnect to release references before the
// cascade delete removes the rows.
func ListMessageAssetIDs(ctx context.Context, pool *pgxpool.Pool, accountID string) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT body_asset_id FROM messages
		WHERE account_id = $1 AND body_asset_id IS NOT NULL
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message asset ids: %w", err)
	}
	defer rows.Close()

	var assetIDs []string
	for rows.Next() {
		var assetID string
		if err := rows.Scan(&assetID); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		assetIDs = append(assetIDs, assetID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset ids: %w", err)
	}

	return assetIDs, nil
}

// ListMessageIDsInThread returns the ids of the other messages in a
// conversation, newest first. Used to warm the body cache while the user
// reads one of them.
func ListMessageIDsInThread(ctx context.Context, pool *pgxpool.Pool, accountID, externalThreadID, excludeMessageID string) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM messages
		WHERE account_id = $1 AND external_thread_id = $2 AND id <> $3
		ORDER BY received_at DESC
	`, accountID, externalThreadID, excludeMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread messages: %w", err)
	}

	return ids, nil
}

// CountMessages returns the number of index records for an account.
func CountMessages(ctx context.Context, pool *pgxpool.Pool, accountID string) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
