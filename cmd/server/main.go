package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/api"
	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/auth"
	"github.com/meridianhq/mailsync/internal/bodycache"
	"github.com/meridianhq/mailsync/internal/config"
	"github.com/meridianhq/mailsync/internal/crypto"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
	"github.com/meridianhq/mailsync/internal/provider/outlook"
	"github.com/meridianhq/mailsync/internal/sync"
	"github.com/meridianhq/mailsync/internal/webhook"
	ws "github.com/meridianhq/mailsync/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	server, orchestrator := NewServer(cfg, pool)

	// The scheduled trigger endpoint drives most deployments; the internal
	// ticker covers the ones without an external scheduler.
	go orchestrator.Run(ctx)

	address := ":" + cfg.Port
	log.Printf("mailsync server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates the HTTP handler for the sync service along with the
// orchestrator, which the caller owns scheduling for.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool) (http.Handler, *sync.Orchestrator) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	providers := map[models.Provider]provider.Client{
		models.ProviderOutlook: outlook.NewClient(),
	}

	store := assets.NewStore(dbPool)
	tokens := auth.NewTokenService(dbPool, encryptor, cfg)
	wsHub := ws.NewHub(10)

	orchestrator := sync.NewOrchestrator(dbPool, store, tokens, providers, wsHub, cfg.SyncInterval)
	manager := webhook.NewManager(dbPool, store, tokens, providers, cfg.WebhookBaseURL+"/webhooks/outlook")
	cache := bodycache.New(cfg.BodyCacheSize, bodyFetcher(dbPool, tokens, providers))

	webhookHandler := api.NewWebhookHandler(manager)
	syncHandler := api.NewSyncHandler(orchestrator, manager)
	messagesHandler := api.NewMessagesHandler(dbPool, store, cache, tokens, providers)
	accountsHandler := api.NewAccountsHandler(dbPool, encryptor, manager)
	wsHandler := api.NewWebSocketHandler(wsHub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	// The webhook endpoint authenticates by clientState, not by header: the
	// provider cannot send custom credentials.
	mux.Handle("/webhooks/outlook", http.HandlerFunc(webhookHandler.Handle))

	mux.Handle("/internal/sync/run", auth.RequireInternalSecret(cfg.InternalAPISecret, http.HandlerFunc(syncHandler.Run)))

	mux.Handle("/api/v1/accounts", auth.RequireInternalSecret(cfg.InternalAPISecret, http.HandlerFunc(accountsHandler.Handle)))
	mux.Handle("/api/v1/accounts/", auth.RequireInternalSecret(cfg.InternalAPISecret, http.HandlerFunc(accountsHandler.Handle)))
	mux.Handle("/api/v1/messages/", auth.RequireInternalSecret(cfg.InternalAPISecret, http.HandlerFunc(messagesHandler.Handle)))

	// WebSocket connections come from browsers, which cannot set headers;
	// the reverse proxy in front is the trust boundary here.
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	return mux, orchestrator
}

// bodyFetcher builds the cache's fetch path: resolve the message and its
// account, then pull the body from the owning provider.
func bodyFetcher(pool *pgxpool.Pool, tokens *auth.TokenService, providers map[models.Provider]provider.Client) bodycache.Fetcher {
	return func(ctx context.Context, messageID string) (*provider.Body, error) {
		msg, err := db.GetMessage(ctx, pool, messageID)
		if err != nil {
			if errors.Is(err, db.ErrMessageNotFound) {
				return nil, provider.ErrNotFound
			}
			return nil, err
		}

		account, err := db.GetAccount(ctx, pool, msg.AccountID)
		if err != nil {
			return nil, err
		}

		client, ok := providers[account.Provider]
		if !ok {
			return nil, fmt.Errorf("no provider client for %s", account.Provider)
		}

		token, err := tokens.AccessToken(ctx, account)
		if err != nil {
			return nil, err
		}

		return client.GetMessageBody(ctx, token, msg.ExternalID)
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailsync API is running")
}
