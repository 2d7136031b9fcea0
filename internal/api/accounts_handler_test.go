package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
	"github.com/meridianhq/mailsync/internal/testutil"
	"github.com/meridianhq/mailsync/internal/webhook"
)

func TestAccountsHandlerConnectAndDisconnect(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	store := assets.NewStore(pool)
	encryptor := testutil.NewTestEncryptor(t)

	client := &stubClient{}
	providers := map[models.Provider]provider.Client{models.ProviderOutlook: client}
	manager := webhook.NewManager(pool, store, testTokens(t, pool), providers, "https://sync.example.com/webhooks/outlook")
	handler := NewAccountsHandler(pool, encryptor, manager)

	body := `{
		"user_id": "user-1",
		"provider": "outlook",
		"email_address": "me@example.com",
		"access_token": "at-1",
		"refresh_token": "rt-1",
		"token_expires_at": "2026-09-01T12:00:00Z"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var created models.Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	// The refresh token is stored encrypted and never serialized.
	assert.NotContains(t, rr.Body.String(), "rt-1")
	stored, err := db.GetAccount(ctx, pool, created.ID)
	require.NoError(t, err)
	decrypted, err := encryptor.Decrypt(stored.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", decrypted)

	// Connecting registered a webhook subscription.
	_, err = db.GetSubscription(ctx, pool, "sub-1")
	require.NoError(t, err)

	// Disconnect requires the owning user.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/accounts/"+created.ID+"?user_id=user-2", nil)
	rr = httptest.NewRecorder()
	handler.Handle(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/accounts/"+created.ID+"?user_id=user-1", nil)
	rr = httptest.NewRecorder()
	handler.Handle(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	_, err = db.GetAccount(ctx, pool, created.ID)
	assert.ErrorIs(t, err, db.ErrAccountNotFound)
}

func TestAccountsHandlerRejectsUnknownProvider(t *testing.T) {
	pool := testutil.NewTestDB(t)
	handler := NewAccountsHandler(pool, testutil.NewTestEncryptor(t), nil)

	body := `{
		"user_id": "user-1",
		"provider": "carrier-pigeon",
		"email_address": "me@example.com",
		"access_token": "at-1",
		"refresh_token": "rt-1"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
