package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianhq/mailsync/internal/models"
)

// ErrFolderNotFound is returned when a requested folder cannot be found.
var ErrFolderNotFound = errors.New("folder not found")

// UpsertFolder saves or updates a folder mirror, returning true when a new
// row was created. A material change to the folder's display identity
// (rename, reparent, canonical bucket change) clears the stored delta token
// so the next fetch is a full rather than incremental sync.
func UpsertFolder(ctx context.Context, pool *pgxpool.Pool, folder *models.Folder) (bool, error) {
	var created bool
	err := pool.QueryRow(ctx, `
		INSERT INTO folders (account_id, external_id, display_name, canonical_folder, parent_external_id, child_folder_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			canonical_folder = EXCLUDED.canonical_folder,
			parent_external_id = EXCLUDED.parent_external_id,
			child_folder_count = EXCLUDED.child_folder_count,
			delta_token = CASE
				WHEN folders.display_name IS DISTINCT FROM EXCLUDED.display_name
					OR folders.canonical_folder IS DISTINCT FROM EXCLUDED.canonical_folder
					OR folders.parent_external_id IS DISTINCT FROM EXCLUDED.parent_external_id
				THEN ''
				ELSE folders.delta_token
			END
		RETURNING id, (xmax = 0)
	`,
		folder.AccountID,
		folder.ExternalID,
		folder.DisplayName,
		folder.Canonical,
		folder.ParentExternalID,
		folder.ChildFolderCount,
	).Scan(&folder.ID, &created)

	if err != nil {
		return false, fmt.Errorf("failed to upsert folder: %w", err)
	}

	return created, nil
}

// ListFolders returns all folder mirrors for an account.
func ListFolders(ctx context.Context, pool *pgxpool.Pool, accountID string) ([]*models.Folder, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, account_id, external_id, display_name, canonical_folder, parent_external_id, child_folder_count, delta_token
		FROM folders
		WHERE account_id = $1
		ORDER BY display_name
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		var folder models.Folder
		if err := rows.Scan(
			&folder.ID,
			&folder.AccountID,
			&folder.ExternalID,
			&folder.DisplayName,
			&folder.Canonical,
			&folder.ParentExternalID,
			&folder.ChildFolderCount,
			&folder.DeltaToken,
		); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, &folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	return folders, nil
}

// GetFolderByExternalID returns a folder by its provider-assigned id.
func GetFolderByExternalID(ctx context.Context, pool *pgxpool.Pool, accountID, externalID string) (*models.Folder, error) {
	var folder models.Folder
	err := pool.QueryRow(ctx, `
		SELECT id, account_id, external_id, display_name, canonical_folder, parent_external_id, child_folder_count, delta_token
		FROM folders
		WHERE account_id = $1 AND external_id = $2
	`, accountID, externalID).Scan(
		&folder.ID,
		&folder.AccountID,
		&folder.ExternalID,
		&folder.DisplayName,
		&folder.Canonical,
		&folder.ParentExternalID,
		&folder.ChildFolderCount,
		&folder.DeltaToken,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFolderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}

	return &folder, nil
}

// GetFolderByCanonical returns the first folder in a canonical bucket, used
// to resolve move destinations (e.g. the trash folder).
func GetFolderByCanonical(ctx context.Context, pool *pgxpool.Pool, accountID string, canonical string) (*models.Folder, error) {
	var folder models.Folder
	err := pool.QueryRow(ctx, `
		SELECT id, account_id, external_id, display_name, canonical_folder, parent_external_id, child_folder_count, delta_token
		FROM folders
		WHERE account_id = $1 AND canonical_folder = $2
		ORDER BY display_name
		LIMIT 1
	`, accountID, canonical).Scan(
		&folder.ID,
		&folder.AccountID,
		&folder.ExternalID,
		&folder.DisplayName,
		&folder.Canonical,
		&folder.ParentExternalID,
		&folder.ChildFolderCount,
		&folder.DeltaToken,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFolderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}

	return &folder, nil
}

// DeleteFoldersNotIn removes every local folder for the account whose
// external id is absent from keepExternalIDs, and returns how many were
// deleted. The provider's folder listing is ground truth; local folders it
// no longer reports must not persist.
func DeleteFoldersNotIn(ctx context.Context, pool *pgxpool.Pool, accountID string, keepExternalIDs []string) (int, error) {
	if keepExternalIDs == nil {
		keepExternalIDs = []string{}
	}

	tag, err := pool.Exec(ctx, `
		DELETE FROM folders
		WHERE account_id = $1 AND NOT (external_id = ANY($2))
	`, accountID, keepExternalIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale folders: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// SetFolderDeltaToken stores the incremental-fetch cursor for a folder.
func SetFolderDeltaToken(ctx context.Context, pool *pgxpool.Pool, accountID, externalID, deltaToken string) error {
	_, err := pool.Exec(ctx, `
		UPDATE folders SET delta_token = $3
		WHERE account_id = $1 AND external_id = $2
	`, accountID, externalID, deltaToken)
	if err != nil {
		return fmt.Errorf("failed to set folder delta token: %w", err)
	}
	return nil
}
