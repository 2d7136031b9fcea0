package sync

import (
	"context"
	"time"

	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
)

// fakeClient is a scriptable provider for engine tests.
type fakeClient struct {
	folders         []provider.Folder
	listErr         error
	deltas          map[string]*provider.Delta
	moveNewID       string
	movePreservesID bool
	moveErr         error
	moveCalls       int
	// onMove runs between the provider move and its return, standing in for
	// a sync pass racing the in-flight call.
	onMove func()
}

var _ provider.Client = (*fakeClient)(nil)

func (f *fakeClient) Name() models.Provider { return models.ProviderOutlook }
func (f *fakeClient) MovePreservesID() bool { return f.movePreservesID }

func (f *fakeClient) ListFolders(ctx context.Context, accessToken string) ([]provider.Folder, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.folders, nil
}

func (f *fakeClient) DeltaMessages(ctx context.Context, accessToken, folderExternalID, deltaToken string) (*provider.Delta, error) {
	if delta, ok := f.deltas[folderExternalID]; ok {
		return delta, nil
	}
	return &provider.Delta{NextToken: "delta-" + folderExternalID}, nil
}

func (f *fakeClient) GetMessage(ctx context.Context, accessToken, messageID string) (*provider.Message, error) {
	return nil, provider.ErrNotFound
}

func (f *fakeClient) GetMessageBody(ctx context.Context, accessToken, messageID string) (*provider.Body, error) {
	return nil, provider.ErrNotFound
}

func (f *fakeClient) MoveMessage(ctx context.Context, accessToken, messageID, destFolderExternalID string) (string, error) {
	f.moveCalls++
	if f.onMove != nil {
		f.onMove()
	}
	if f.moveErr != nil {
		return "", f.moveErr
	}
	if f.movePreservesID || f.moveNewID == "" {
		return messageID, nil
	}
	return f.moveNewID, nil
}

func (f *fakeClient) CreateSubscription(ctx context.Context, accessToken, resource, notificationURL, clientState string, expiresAt time.Time) (*provider.Subscription, error) {
	return &provider.Subscription{ID: "sub-fake", Resource: resource, ExpiresAt: expiresAt}, nil
}

func (f *fakeClient) RenewSubscription(ctx context.Context, accessToken, subscriptionID string, expiresAt time.Time) (time.Time, error) {
	return expiresAt, nil
}

func (f *fakeClient) DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	return nil
}
