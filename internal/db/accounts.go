package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianhq/mailsync/internal/models"
)

// ErrAccountNotFound is returned when a requested account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `
	id,
	user_id,
	provider,
	email_address,
	access_token,
	encrypted_refresh_token,
	token_expires_at,
	is_syncing,
	sync_halted,
	last_sync_error,
	last_sync_at,
	initial_sync_complete,
	folders_cached_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Provider,
		&account.EmailAddress,
		&account.AccessToken,
		&account.EncryptedRefreshToken,
		&account.TokenExpiresAt,
		&account.IsSyncing,
		&account.SyncHalted,
		&account.LastSyncError,
		&account.LastSyncAt,
		&account.InitialSyncComplete,
		&account.FoldersCachedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &account, nil
}

// CreateAccount inserts a new connected account and populates its ID.
func CreateAccount(ctx context.Context, pool *pgxpool.Pool, account *models.Account) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, provider, email_address, access_token, encrypted_refresh_token, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		account.UserID,
		account.Provider,
		account.EmailAddress,
		account.AccessToken,
		account.EncryptedRefreshToken,
		account.TokenExpiresAt,
	).Scan(&account.ID)

	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccount returns an account by its id.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) (*models.Account, error) {
	row := pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// GetAccountForUser returns the account for a (user, provider) pair.
func GetAccountForUser(ctx context.Context, pool *pgxpool.Pool, userID string, p models.Provider) (*models.Account, error) {
	row := pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND provider = $2`, userID, p)
	return scanAccount(row)
}

// ListAccountsDueForSync returns accounts whose last poll is older than the
// interval (or that have never synced), excluding accounts already mid-sync
// and accounts halted by a credential failure. A transient failure does not
// halt: the account stays in the sweep and retries on the next cycle.
func ListAccountsDueForSync(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) ([]*models.Account, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE NOT is_syncing
		  AND NOT sync_halted
		  AND (last_sync_at IS NULL OR last_sync_at < now() - $1::interval)
		ORDER BY last_sync_at NULLS FIRST
	`, interval.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts due for sync: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// MarkSyncStarted flips the is_syncing flag. Returns false when the account
// was already syncing, so a racing trigger does not start a second pass.
func MarkSyncStarted(ctx context.Context, pool *pgxpool.Pool, accountID string) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE accounts SET is_syncing = TRUE
		WHERE id = $1 AND NOT is_syncing
	`, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to mark sync started: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSyncFinished records the outcome of a sync pass. A nil syncErr clears
// last_sync_error; a non-nil one stores its message as a status for
// operators. Only halt removes the account from the sweep, reserved for
// credential failures that cannot heal without the user reconnecting.
func MarkSyncFinished(ctx context.Context, pool *pgxpool.Pool, accountID string, syncErr error, halt bool) error {
	var errMessage *string
	if syncErr != nil {
		msg := syncErr.Error()
		errMessage = &msg
	}

	_, err := pool.Exec(ctx, `
		UPDATE accounts
		SET is_syncing = FALSE, last_sync_at = now(), last_sync_error = $2, sync_halted = $3
		WHERE id = $1
	`, accountID, errMessage, halt)
	if err != nil {
		return fmt.Errorf("failed to mark sync finished: %w", err)
	}
	return nil
}

// UpdateAccountTokens stores a refreshed token pair. This is the only write
// path for tokens: readers tolerate a stale read losing the race and retry
// on a 401 instead of locking.
func UpdateAccountTokens(ctx context.Context, pool *pgxpool.Pool, accountID, accessToken string, encryptedRefreshToken []byte, expiresAt time.Time) error {
	_, err := pool.Exec(ctx, `
		UPDATE accounts
		SET access_token = $2, encrypted_refresh_token = $3, token_expires_at = $4
		WHERE id = $1
	`, accountID, accessToken, encryptedRefreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	return nil
}

// MarkInitialSyncComplete records that the account's first full sync finished.
func MarkInitialSyncComplete(ctx context.Context, pool *pgxpool.Pool, accountID string) error {
	_, err := pool.Exec(ctx, `UPDATE accounts SET initial_sync_complete = TRUE WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to mark initial sync complete: %w", err)
	}
	return nil
}

// SetFoldersCachedAt records when the folder listing was last reconciled.
func SetFoldersCachedAt(ctx context.Context, pool *pgxpool.Pool, accountID string, at time.Time) error {
	_, err := pool.Exec(ctx, `UPDATE accounts SET folders_cached_at = $2 WHERE id = $1`, accountID, at)
	if err != nil {
		return fmt.Errorf("failed to set folders cached at: %w", err)
	}
	return nil
}

// DeleteAccount removes an account. Folders, messages, and subscriptions
// cascade at the schema level; asset references are released by the caller
// before this runs.
func DeleteAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) error {
	_, err := pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
