// Package provider defines the normalized shapes and client contract that
// every mail provider adapter implements. Raw provider payloads never leave
// the adapter: everything downstream of this package works with these types.
package provider

import (
	"context"
	"time"

	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/taxonomy"
)

// Folder is one remote folder as reported by the provider's folder listing.
type Folder struct {
	ExternalID       string
	DisplayName      string
	Canonical        taxonomy.CanonicalFolder
	ParentExternalID string
	ChildFolderCount int
}

// Message is one normalized message from a delta feed or a single fetch.
// A Removed message is a tombstone: the remote item was deleted and only
// ExternalID is meaningful.
type Message struct {
	ExternalID       string
	ExternalThreadID string
	Subject          string
	Snippet          string
	From             models.Recipient
	To               []models.Recipient
	CC               []models.Recipient
	ReceivedAt       time.Time
	FolderExternalID string
	Folder           taxonomy.CanonicalFolder
	States           []taxonomy.CanonicalState
	Removed          bool
}

// Unread reports whether the message carries the unread state.
func (m *Message) Unread() bool {
	for _, s := range m.States {
		if s == taxonomy.StateUnread {
			return true
		}
	}
	return false
}

// Delta is one page-complete incremental fetch result for a folder.
type Delta struct {
	Messages  []Message
	NextToken string // cursor for the next incremental fetch
}

// Body is a fetched message body.
type Body struct {
	Content     []byte
	ContentType string
}

// Subscription is a provider-side push notification registration.
type Subscription struct {
	ID        string
	Resource  string
	ExpiresAt time.Time
}

// Notification is one normalized inbound change notification.
type Notification struct {
	SubscriptionID string
	ClientState    string
	ChangeType     string // created | updated | deleted
	ResourceID     string
}

// Client is the full provider surface the sync engine needs. Every method
// that touches the network takes a context and an access token; token refresh
// is the caller's concern.
type Client interface {
	Name() models.Provider

	// MovePreservesID declares whether the provider's move operation keeps
	// the message's external id. Outlook reassigns ids on move; adapters for
	// id-preserving providers return true and skip duplicate reconciliation.
	MovePreservesID() bool

	ListFolders(ctx context.Context, accessToken string) ([]Folder, error)

	// DeltaMessages fetches changes for one folder since deltaToken. An empty
	// token requests a full fetch. The returned token is the cursor for the
	// next call.
	DeltaMessages(ctx context.Context, accessToken, folderExternalID, deltaToken string) (*Delta, error)

	// GetMessage fetches a single message by its external id.
	GetMessage(ctx context.Context, accessToken, messageID string) (*Message, error)

	// GetMessageBody fetches the full body of a single message.
	GetMessageBody(ctx context.Context, accessToken, messageID string) (*Body, error)

	// MoveMessage moves a message to the given folder and returns the
	// message's external id after the move (a new id for id-reassigning
	// providers).
	MoveMessage(ctx context.Context, accessToken, messageID, destFolderExternalID string) (string, error)

	CreateSubscription(ctx context.Context, accessToken, resource, notificationURL, clientState string, expiresAt time.Time) (*Subscription, error)
	RenewSubscription(ctx context.Context, accessToken, subscriptionID string, expiresAt time.Time) (time.Time, error)
	DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error
}
