package models

import "time"

// Provider identifies which remote mail service an account is connected to.
type Provider string

const (
	ProviderOutlook Provider = "outlook"
	ProviderGmail   Provider = "gmail"
	ProviderYahoo   Provider = "yahoo"
)

// Account is one connected mailbox: one row per (user, provider) pair.
// Tokens and sync cursors are mutated only by the orchestrator and the
// webhook manager write paths.
type Account struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	Provider              Provider   `json:"provider"`
	EmailAddress          string     `json:"email_address"`
	AccessToken           string     `json:"-"`
	EncryptedRefreshToken []byte     `json:"-"`
	TokenExpiresAt        time.Time  `json:"token_expires_at"`
	IsSyncing             bool       `json:"is_syncing"`
	// SyncHalted is set when the account's credentials are rejected beyond
	// repair; the sweep skips halted accounts until the user reconnects.
	SyncHalted            bool       `json:"sync_halted"`
	LastSyncError         *string    `json:"last_sync_error,omitempty"`
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
	InitialSyncComplete   bool       `json:"initial_sync_complete"`
	FoldersCachedAt       *time.Time `json:"folders_cached_at,omitempty"`
}
