package outlook

import (
	"time"

	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
	"github.com/meridianhq/mailsync/internal/taxonomy"
)

// Raw Graph payload shapes. These never leave this package: everything is
// converted to the normalized provider types at the ingestion boundary.

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphRemoved struct {
	Reason string `json:"reason"`
}

type graphFollowupFlag struct {
	FlagStatus string `json:"flagStatus"`
}

type graphMessage struct {
	ID                      string             `json:"id"`
	ConversationID          string             `json:"conversationId"`
	Subject                 string             `json:"subject"`
	BodyPreview             string             `json:"bodyPreview"`
	From                    *graphRecipient    `json:"from"`
	ToRecipients            []graphRecipient   `json:"toRecipients"`
	CcRecipients            []graphRecipient   `json:"ccRecipients"`
	ReceivedDateTime        string             `json:"receivedDateTime"`
	IsRead                  bool               `json:"isRead"`
	Flag                    *graphFollowupFlag `json:"flag"`
	Importance              string             `json:"importance"`
	InferenceClassification string             `json:"inferenceClassification"`
	ParentFolderID          string             `json:"parentFolderId"`
	Removed                 *graphRemoved      `json:"@removed"`
}

type graphFolder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ParentFolderID   string `json:"parentFolderId"`
	ChildFolderCount int    `json:"childFolderCount"`
	WellKnownName    string `json:"wellKnownName"`
}

type graphFolderListResponse struct {
	Value    []graphFolder `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

type graphDeltaResponse struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

type graphSubscription struct {
	ID                 string `json:"id,omitempty"`
	ChangeType         string `json:"changeType,omitempty"`
	NotificationURL    string `json:"notificationUrl,omitempty"`
	Resource           string `json:"resource,omitempty"`
	ClientState        string `json:"clientState,omitempty"`
	ExpirationDateTime string `json:"expirationDateTime,omitempty"`
}

type graphMoveRequest struct {
	DestinationID string `json:"destinationId"`
}

type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// notificationEnvelope is the POST body the provider delivers to the webhook
// endpoint: a batch of change notifications.
type notificationEnvelope struct {
	Value []graphNotification `json:"value"`
}

type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

func convertFolder(raw graphFolder) provider.Folder {
	// Well-known name when Graph supplies it, display name otherwise. Both
	// resolve through the same taxonomy table; custom folders land in the
	// system bucket.
	rawName := raw.WellKnownName
	if rawName == "" {
		rawName = raw.DisplayName
	}

	return provider.Folder{
		ExternalID:       raw.ID,
		DisplayName:      raw.DisplayName,
		Canonical:        taxonomy.MapOutlookFolder(rawName),
		ParentExternalID: raw.ParentFolderID,
		ChildFolderCount: raw.ChildFolderCount,
	}
}

func convertRecipient(raw graphRecipient) models.Recipient {
	return models.Recipient{
		Name:  raw.EmailAddress.Name,
		Email: raw.EmailAddress.Address,
	}
}

func convertRecipients(raw []graphRecipient) []models.Recipient {
	if len(raw) == 0 {
		return nil
	}
	out := make([]models.Recipient, len(raw))
	for i, r := range raw {
		out[i] = convertRecipient(r)
	}
	return out
}

func convertMessage(raw graphMessage, folderCanonical taxonomy.CanonicalFolder) provider.Message {
	if raw.Removed != nil {
		return provider.Message{ExternalID: raw.ID, Removed: true}
	}

	flags := taxonomy.OutlookFlags{
		IsRead:                  raw.IsRead,
		Importance:              raw.Importance,
		InferenceClassification: raw.InferenceClassification,
	}
	if raw.Flag != nil {
		flags.FlagStatus = raw.Flag.FlagStatus
	}

	msg := provider.Message{
		ExternalID:       raw.ID,
		ExternalThreadID: raw.ConversationID,
		Subject:          raw.Subject,
		Snippet:          raw.BodyPreview,
		To:               convertRecipients(raw.ToRecipients),
		CC:               convertRecipients(raw.CcRecipients),
		FolderExternalID: raw.ParentFolderID,
		Folder:           folderCanonical,
		States:           taxonomy.ExtractOutlookStates(flags),
	}

	if raw.From != nil {
		msg.From = convertRecipient(*raw.From)
	}

	if raw.ReceivedDateTime != "" {
		if received, err := time.Parse(time.RFC3339, raw.ReceivedDateTime); err == nil {
			msg.ReceivedAt = received
		}
	}

	return msg
}
