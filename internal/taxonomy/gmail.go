package taxonomy

import "strings"

// gmailFolderPriority resolves Gmail's multi-label model into a single
// location. A message can carry several conflicting labels at once (e.g.
// TRASH and INBOX during a move), so resolution is priority-ordered and the
// first match wins. Anything without a location label is archived mail.
var gmailFolderPriority = []struct {
	label  string
	folder CanonicalFolder
}{
	{"TRASH", FolderTrash},
	{"SPAM", FolderSpam},
	{"DRAFT", FolderDrafts},
	{"SENT", FolderSent},
	{"INBOX", FolderInbox},
	{"SCHEDULED", FolderScheduled},
	{"CHAT", FolderSystem},
}

// MapGmailLabels resolves a Gmail label set to a canonical folder.
func MapGmailLabels(labels []string) CanonicalFolder {
	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		set[strings.ToUpper(label)] = struct{}{}
	}
	for _, entry := range gmailFolderPriority {
		if _, ok := set[entry.label]; ok {
			return entry.folder
		}
	}
	return FolderArchive
}

// ExtractGmailStates derives canonical states from Gmail label ids.
func ExtractGmailStates(labels []string) []CanonicalState {
	var states []CanonicalState
	for _, label := range labels {
		switch strings.ToUpper(label) {
		case "UNREAD":
			states = append(states, StateUnread)
		case "STARRED":
			states = append(states, StateStarred)
		case "IMPORTANT":
			states = append(states, StateImportant)
		case "MUTED":
			states = append(states, StateMuted)
		case "SNOOZED":
			states = append(states, StateSnoozed)
		}
	}
	return states
}
