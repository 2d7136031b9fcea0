package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/auth"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
)

// Notifier receives a signal when a sync pass lands new messages for an
// account. The websocket hub implements this.
type Notifier interface {
	NotifyMailboxChanged(userID, accountID string, newMessages int)
}

// Orchestrator drives the scheduled sync path: it picks up accounts due for
// a pass and runs folder reconciliation plus per-folder delta fetches for
// each. Accounts are isolated from each other; one account's failure is
// recorded on that account and never blocks the rest.
type Orchestrator struct {
	pool      *pgxpool.Pool
	store     *assets.Store
	tokens    *auth.TokenService
	providers map[models.Provider]provider.Client
	notifier  Notifier
	interval  time.Duration

	// warned tracks accounts already logged for an unsupported provider so
	// every pass does not repeat the same warning. Only the scheduling
	// goroutine touches it.
	warned map[string]bool
}

// NewOrchestrator creates an orchestrator. notifier may be nil when no
// consumer needs change signals.
func NewOrchestrator(pool *pgxpool.Pool, store *assets.Store, tokens *auth.TokenService, providers map[models.Provider]provider.Client, notifier Notifier, interval time.Duration) *Orchestrator {
	return &Orchestrator{
		pool:      pool,
		store:     store,
		tokens:    tokens,
		providers: providers,
		notifier:  notifier,
		interval:  interval,
		warned:    make(map[string]bool),
	}
}

// Run processes due accounts on a fixed cadence until the context ends.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ProcessDueAccounts(ctx)
		}
	}
}

// ProcessDueAccounts runs one sync pass over every account that is due.
// This is also the entry point for the internal trigger endpoint.
func (o *Orchestrator) ProcessDueAccounts(ctx context.Context) {
	accounts, err := db.ListAccountsDueForSync(ctx, o.pool, o.interval)
	if err != nil {
		log.Printf("Warning: failed to list accounts due for sync: %v", err)
		return
	}

	for _, account := range accounts {
		if err := o.SyncAccount(ctx, account); err != nil {
			log.Printf("Warning: sync failed for account %s: %v", account.ID, err)
		}
	}
}

// SyncAccount runs one full pass for a single account: folder
// reconciliation, then a delta fetch per folder. The is_syncing claim keeps
// a racing trigger from running the same account twice.
func (o *Orchestrator) SyncAccount(ctx context.Context, account *models.Account) error {
	client, ok := o.providers[account.Provider]
	if !ok {
		if !o.warned[account.ID] {
			o.warned[account.ID] = true
			log.Printf("Warning: no provider client for %s, skipping account %s", account.Provider, account.ID)
		}
		return nil
	}

	claimed, err := db.MarkSyncStarted(ctx, o.pool, account.ID)
	if err != nil {
		return fmt.Errorf("failed to claim account for sync: %w", err)
	}
	if !claimed {
		return nil
	}

	syncErr := o.runPass(ctx, account, client)

	// Only a credential rejection that survived the refresh retry halts the
	// account; transient failures leave it in the sweep for the next cycle.
	halt := errors.Is(syncErr, provider.ErrUnauthorized)
	if err := db.MarkSyncFinished(ctx, o.pool, account.ID, syncErr, halt); err != nil {
		log.Printf("Warning: failed to record sync result for account %s: %v", account.ID, err)
	}
	return syncErr
}

func (o *Orchestrator) runPass(ctx context.Context, account *models.Account, client provider.Client) error {
	var listing []provider.Folder
	err := o.withAuthRetry(ctx, account, func(token string) error {
		var err error
		listing, err = client.ListFolders(ctx, token)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list provider folders: %w", err)
	}

	outcome, err := ReconcileFolders(ctx, o.pool, o.store, account.ID, listing)
	if err != nil {
		return fmt.Errorf("failed to reconcile folders: %w", err)
	}
	if outcome.Failed > 0 {
		log.Printf("Warning: %d folder upserts failed for account %s", outcome.Failed, account.ID)
	}
	if err := db.SetFoldersCachedAt(ctx, o.pool, account.ID, time.Now()); err != nil {
		log.Printf("Warning: failed to record folder refresh time for account %s: %v", account.ID, err)
	}

	folders, err := db.ListFolders(ctx, o.pool, account.ID)
	if err != nil {
		return fmt.Errorf("failed to list local folders: %w", err)
	}

	newMessages := 0
	for _, folder := range folders {
		stored, err := o.syncFolder(ctx, account, client, folder)
		if err != nil {
			if rateErr, ok := provider.AsRateLimit(err); ok {
				// Rate limits are transient. Stop the pass here and let the
				// next scheduled run pick up where the delta cursor left off.
				log.Printf("Warning: rate limited syncing account %s, retry after %s", account.ID, rateErr.RetryAfter)
				break
			}
			return fmt.Errorf("failed to sync folder %s: %w", folder.ExternalID, err)
		}
		newMessages += stored
	}

	if newMessages > 0 && o.notifier != nil {
		o.notifier.NotifyMailboxChanged(account.UserID, account.ID, newMessages)
	}

	if !account.InitialSyncComplete {
		if err := db.MarkInitialSyncComplete(ctx, o.pool, account.ID); err != nil {
			log.Printf("Warning: failed to mark initial sync complete for account %s: %v", account.ID, err)
		}
	}
	return nil
}

// syncFolder runs one delta fetch for a folder and applies the batch.
// Returns how many new messages were stored.
func (o *Orchestrator) syncFolder(ctx context.Context, account *models.Account, client provider.Client, folder *models.Folder) (int, error) {
	var delta *provider.Delta
	err := o.withAuthRetry(ctx, account, func(token string) error {
		var err error
		delta, err = client.DeltaMessages(ctx, token, folder.ExternalID, folder.DeltaToken)
		return err
	})
	if err != nil {
		return 0, err
	}

	// The delta feed belongs to this folder, so every non-tombstone record
	// lands in its canonical bucket.
	for i := range delta.Messages {
		if !delta.Messages[i].Removed {
			delta.Messages[i].Folder = folder.Canonical
			if delta.Messages[i].FolderExternalID == "" {
				delta.Messages[i].FolderExternalID = folder.ExternalID
			}
		}
	}

	result, err := UpsertMessages(ctx, o.pool, o.store, account, delta.Messages, nil)
	if err != nil {
		log.Printf("Warning: %v while upserting batch for folder %s", err, folder.ExternalID)
	}

	if delta.NextToken != "" {
		if err := db.SetFolderDeltaToken(ctx, o.pool, account.ID, folder.ExternalID, delta.NextToken); err != nil {
			return result.Stored, fmt.Errorf("failed to store delta token: %w", err)
		}
	}
	return result.Stored, nil
}

// withAuthRetry runs fn with a current access token, refreshing and retrying
// exactly once on a token rejection. Tokens are single-writer: a stale read
// losing to a concurrent refresh surfaces as a 401 here, and the retry picks
// up the fresher token.
func (o *Orchestrator) withAuthRetry(ctx context.Context, account *models.Account, fn func(token string) error) error {
	token, err := o.tokens.AccessToken(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	err = fn(token)
	if !errors.Is(err, provider.ErrUnauthorized) {
		return err
	}

	token, err = o.tokens.Refresh(ctx, account)
	if err != nil {
		// A rejection we cannot refresh past is an authorization failure,
		// whatever broke the refresh itself.
		return fmt.Errorf("%w: failed to refresh access token: %w", provider.ErrUnauthorized, err)
	}
	return fn(token)
}
