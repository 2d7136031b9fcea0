package taxonomy

import "strings"

// outlookWellKnownFolders maps Graph well-known folder names to canonical
// folders. Keys are lowercase; lookup is case-insensitive.
var outlookWellKnownFolders = map[string]CanonicalFolder{
	"inbox":                 FolderInbox,
	"sentitems":             FolderSent,
	"drafts":                FolderDrafts,
	"archive":               FolderArchive,
	"junkemail":             FolderSpam,
	"deleteditems":          FolderTrash,
	"outbox":                FolderOutbox,
	"scheduled":             FolderScheduled,
	"clutter":               FolderSystem,
	"conflicts":             FolderSystem,
	"conversationhistory":   FolderSystem,
	"localfailures":         FolderSystem,
	"msgfolderroot":         FolderSystem,
	"recoverableitemsdeletions": FolderSystem,
	"searchfolders":         FolderSystem,
	"serverfailures":        FolderSystem,
	"syncissues":            FolderSystem,
}

// MapOutlookFolder maps a Graph well-known folder name (or a display name
// like "Sent Items" when no well-known name is present) to a canonical
// folder. Custom folders map to FolderSystem rather than erroring: they are
// preserved, never dropped.
func MapOutlookFolder(wellKnownName string) CanonicalFolder {
	key := strings.ToLower(strings.ReplaceAll(wellKnownName, " ", ""))
	if folder, ok := outlookWellKnownFolders[key]; ok {
		return folder
	}
	return FolderSystem
}

// OutlookFlags is the subset of Graph message fields that carry behavioral
// state.
type OutlookFlags struct {
	IsRead                  bool
	FlagStatus              string // notFlagged | flagged | complete
	Importance              string // low | normal | high
	InferenceClassification string // focused | other
}

// ExtractOutlookStates derives the canonical state set from Graph message
// flags.
func ExtractOutlookStates(flags OutlookFlags) []CanonicalState {
	var states []CanonicalState
	if !flags.IsRead {
		states = append(states, StateUnread)
	}
	if strings.EqualFold(flags.FlagStatus, "flagged") {
		states = append(states, StateStarred)
	}
	if strings.EqualFold(flags.Importance, "high") {
		states = append(states, StateImportant)
	}
	switch strings.ToLower(flags.InferenceClassification) {
	case "focused":
		states = append(states, StateFocused)
	case "other":
		states = append(states, StateOther)
	}
	return states
}
