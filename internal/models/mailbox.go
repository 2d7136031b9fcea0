package models

import (
	"time"

	"github.com/meridianhq/mailsync/internal/taxonomy"
)

// Folder mirrors one remote provider folder. The provider's folder listing is
// the source of truth: folders absent from the latest listing are deleted
// locally, not soft-deleted.
type Folder struct {
	ID               string                   `json:"id"`
	AccountID        string                   `json:"account_id"`
	ExternalID       string                   `json:"external_id"`
	DisplayName      string                   `json:"display_name"`
	Canonical        taxonomy.CanonicalFolder `json:"canonical_folder"`
	ParentExternalID string                   `json:"parent_external_id,omitempty"`
	ChildFolderCount int                      `json:"child_folder_count"`
	// DeltaToken is the opaque incremental-fetch cursor. Cleared whenever the
	// folder's display identity changes so the next fetch is a full sync.
	DeltaToken string `json:"-"`
}

// ResolutionState classifies who owes the next reply on a message.
type ResolutionState string

const (
	ResolutionAwaitingMe   ResolutionState = "awaiting_me"
	ResolutionAwaitingThem ResolutionState = "awaiting_them"
	ResolutionNone         ResolutionState = "none"
)

// Recipient is a normalized {name, email} pair. Name falls back to the empty
// string when the provider gives none.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Message is the local index record for one remote message, keyed by
// (accountID, externalID). The body lives in the asset store, referenced by
// BodyAssetID.
type Message struct {
	ID               string                    `json:"id"`
	AccountID        string                    `json:"account_id"`
	ExternalID       string                    `json:"external_id"`
	ExternalThreadID string                    `json:"external_thread_id,omitempty"`
	Subject          string                    `json:"subject"`
	Snippet          string                    `json:"snippet,omitempty"`
	From             Recipient                 `json:"from"`
	To               []Recipient               `json:"to"`
	CC               []Recipient               `json:"cc,omitempty"`
	ReceivedAt       int64                     `json:"received_at"` // epoch milliseconds
	Folder           taxonomy.CanonicalFolder  `json:"canonical_folder"`
	States           []taxonomy.CanonicalState `json:"canonical_states"`
	ProviderFolderID string                    `json:"provider_folder_id"`
	Resolution       ResolutionState           `json:"resolution_state"`
	BodyAssetID      *string                   `json:"body_asset_id,omitempty"`
}

// HasState reports whether the message carries the given canonical state.
func (m *Message) HasState(state taxonomy.CanonicalState) bool {
	for _, s := range m.States {
		if s == state {
			return true
		}
	}
	return false
}

// DeriveResolution computes the resolution state from sender identity and
// read status: unread mail someone else sent awaits me; mail I sent awaits
// them; everything else is settled.
func DeriveResolution(selfEmail string, from Recipient, unread bool) ResolutionState {
	if from.Email == selfEmail {
		return ResolutionAwaitingThem
	}
	if unread {
		return ResolutionAwaitingMe
	}
	return ResolutionNone
}

// Asset is a content-addressed message body blob, shared by reference count.
// It is garbage-collected when the count reaches zero, never eagerly.
type Asset struct {
	ID             string    `json:"id"`
	StorageID      string    `json:"storage_id"`
	SizeBytes      int64     `json:"size_bytes"`
	ContentType    string    `json:"content_type"`
	RefCount       int       `json:"ref_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// SubscriptionStatus is the lifecycle state of a webhook subscription.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionError   SubscriptionStatus = "error"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// WebhookSubscription is one push-notification registration with the
// provider, keyed by the provider-assigned subscription id. ClientState is
// the shared secret that authenticates inbound notifications; the provider
// does not sign webhook bodies.
type WebhookSubscription struct {
	ID                 string             `json:"id"`
	AccountID          string             `json:"account_id"`
	Resource           string             `json:"resource"`
	ClientState        string             `json:"-"`
	ExpiresAt          time.Time          `json:"expires_at"`
	Status             SubscriptionStatus `json:"status"`
	LastNotificationAt *time.Time         `json:"last_notification_at,omitempty"`
}
