package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"github.com/meridianhq/mailsync/internal/config"
	"github.com/meridianhq/mailsync/internal/crypto"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
)

// RefreshWindow is how close to expiry an access token may get before it is
// refreshed preemptively. Subscription creation in particular must not race
// a token expiring mid-call.
const RefreshWindow = 5 * time.Minute

// TokenService hands out valid provider access tokens for accounts. It is
// the single writer of account token fields; readers that lose a race to a
// fresher refresh fall back to retry-on-401 rather than locking.
type TokenService struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	configs   map[models.Provider]*oauth2.Config
}

// NewTokenService creates a token service with OAuth endpoints for each
// configured provider.
func NewTokenService(pool *pgxpool.Pool, encryptor *crypto.Encryptor, cfg *config.Config) *TokenService {
	configs := map[models.Provider]*oauth2.Config{
		models.ProviderOutlook: {
			ClientID:     cfg.OutlookClientID,
			ClientSecret: cfg.OutlookClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", cfg.OutlookTenant),
				TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.OutlookTenant),
			},
			Scopes: []string{"offline_access", "Mail.ReadWrite"},
		},
	}

	return &TokenService{
		pool:      pool,
		encryptor: encryptor,
		configs:   configs,
	}
}

// AccessToken returns a usable access token for the account, refreshing it
// first when it expires within RefreshWindow.
func (s *TokenService) AccessToken(ctx context.Context, account *models.Account) (string, error) {
	if account.AccessToken != "" && time.Until(account.TokenExpiresAt) > RefreshWindow {
		return account.AccessToken, nil
	}
	return s.Refresh(ctx, account)
}

// Refresh exchanges the account's refresh token for a new access token and
// persists the rotated pair. The account struct is updated in place so the
// caller keeps working with fresh values.
func (s *TokenService) Refresh(ctx context.Context, account *models.Account) (string, error) {
	oauthConfig, ok := s.configs[account.Provider]
	if !ok {
		return "", fmt.Errorf("no OAuth configuration for provider %s", account.Provider)
	}

	refreshToken, err := s.encryptor.Decrypt(account.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}

	// Providers may rotate the refresh token on every exchange.
	newRefreshToken := token.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	encrypted, err := s.encryptor.Encrypt(newRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt rotated refresh token: %w", err)
	}

	if err := db.UpdateAccountTokens(ctx, s.pool, account.ID, token.AccessToken, encrypted, token.Expiry); err != nil {
		return "", err
	}

	account.AccessToken = token.AccessToken
	account.EncryptedRefreshToken = encrypted
	account.TokenExpiresAt = token.Expiry

	return token.AccessToken, nil
}
