// Package taxonomy translates each provider's folder/label vocabulary into a
// shared canonical model. Folders describe location and are mutually
// exclusive; states describe behavior and toggle independently. No provider
// adapter may use one to encode the other.
package taxonomy

// CanonicalFolder is the provider-agnostic location bucket a message belongs
// to. The enum is closed: every raw provider input maps to one of these,
// with unknown/custom folders preserved under FolderSystem.
type CanonicalFolder string

const (
	FolderInbox     CanonicalFolder = "inbox"
	FolderSent      CanonicalFolder = "sent"
	FolderDrafts    CanonicalFolder = "drafts"
	FolderArchive   CanonicalFolder = "archive"
	FolderSpam      CanonicalFolder = "spam"
	FolderTrash     CanonicalFolder = "trash"
	FolderOutbox    CanonicalFolder = "outbox"
	FolderScheduled CanonicalFolder = "scheduled"
	FolderSystem    CanonicalFolder = "system"
)

// CanonicalState is a provider-agnostic behavioral tag on a message. States
// are multi-valued: a message can be unread, starred, and important at once.
type CanonicalState string

const (
	StateUnread    CanonicalState = "unread"
	StateStarred   CanonicalState = "starred"
	StateImportant CanonicalState = "important"
	StateSnoozed   CanonicalState = "snoozed"
	StateMuted     CanonicalState = "muted"
	StateFocused   CanonicalState = "focused"
	StateOther     CanonicalState = "other"
)

// ValidFolder reports whether f is a member of the closed canonical enum.
func ValidFolder(f CanonicalFolder) bool {
	switch f {
	case FolderInbox, FolderSent, FolderDrafts, FolderArchive, FolderSpam,
		FolderTrash, FolderOutbox, FolderScheduled, FolderSystem:
		return true
	}
	return false
}
