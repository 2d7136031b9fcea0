package testutil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/crypto"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/taxonomy"
)

// NewTestEncryptor returns an encryptor with a random key for tests.
func NewTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate test key: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create test encryptor: %v", err)
	}
	return encryptor
}

// CreateTestAccount inserts an Outlook account with a valid token and
// returns it with its generated id populated.
func CreateTestAccount(t *testing.T, pool *pgxpool.Pool, userID, email string) *models.Account {
	t.Helper()

	account := &models.Account{
		UserID:                userID,
		Provider:              models.ProviderOutlook,
		EmailAddress:          email,
		AccessToken:           "test-access-token",
		EncryptedRefreshToken: []byte("test-refresh-token"),
		TokenExpiresAt:        time.Now().Add(time.Hour),
	}
	if err := db.CreateAccount(context.Background(), pool, account); err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}
	return account
}

// CreateTestFolder inserts a folder for the account and returns it with its
// generated id populated.
func CreateTestFolder(t *testing.T, pool *pgxpool.Pool, accountID, externalID, displayName string, canonical taxonomy.CanonicalFolder) *models.Folder {
	t.Helper()

	folder := &models.Folder{
		AccountID:   accountID,
		ExternalID:  externalID,
		DisplayName: displayName,
		Canonical:   canonical,
	}
	if _, err := db.UpsertFolder(context.Background(), pool, folder); err != nil {
		t.Fatalf("Failed to create test folder: %v", err)
	}
	return folder
}
