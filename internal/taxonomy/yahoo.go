package taxonomy

import "strings"

// yahooFolderTypes maps Yahoo Mail API folder types to canonical folders.
var yahooFolderTypes = map[string]CanonicalFolder{
	"inbox":     FolderInbox,
	"sent":      FolderSent,
	"draft":     FolderDrafts,
	"drafts":    FolderDrafts,
	"archive":   FolderArchive,
	"bulk":      FolderSpam,
	"spam":      FolderSpam,
	"trash":     FolderTrash,
	"outbox":    FolderOutbox,
	"scheduled": FolderScheduled,
}

// MapYahooFolder maps a Yahoo folder type to a canonical folder. Custom
// user folders map to FolderSystem.
func MapYahooFolder(folderType string) CanonicalFolder {
	if folder, ok := yahooFolderTypes[strings.ToLower(folderType)]; ok {
		return folder
	}
	return FolderSystem
}

// ExtractYahooStates derives canonical states from Yahoo message flags.
func ExtractYahooStates(isRead, isFlagged bool) []CanonicalState {
	var states []CanonicalState
	if !isRead {
		states = append(states, StateUnread)
	}
	if isFlagged {
		states = append(states, StateStarred)
	}
	return states
}
