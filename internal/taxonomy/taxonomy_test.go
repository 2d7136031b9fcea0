package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapOutlookFolder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected CanonicalFolder
	}{
		{"inbox", "inbox", FolderInbox},
		{"sent items", "sentItems", FolderSent},
		{"drafts", "drafts", FolderDrafts},
		{"junk maps to spam", "junkEmail", FolderSpam},
		{"display name with space", "Sent Items", FolderSent},
		{"deleted items display name", "Deleted Items", FolderTrash},
		{"deleted items maps to trash", "deletedItems", FolderTrash},
		{"archive", "archive", FolderArchive},
		{"outbox", "outbox", FolderOutbox},
		{"case insensitive", "INBOX", FolderInbox},
		{"clutter is a system folder", "clutter", FolderSystem},
		{"custom folder maps to system", "Receipts 2024", FolderSystem},
		{"empty input maps to system", "", FolderSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapOutlookFolder(tt.input))
		})
	}
}

// Every possible raw input must land inside the closed enum: the mapper
// never returns an unrecognized value and never errors.
func TestMapFolderClosure(t *testing.T) {
	inputs := []string{
		"inbox", "sentItems", "DELETEDITEMS", "", "💌", "x", "archive\n",
		"definitely-not-a-folder", "Inbox/Subfolder", "null", "undefined",
	}

	for _, input := range inputs {
		assert.True(t, ValidFolder(MapOutlookFolder(input)), "outlook input %q", input)
		assert.True(t, ValidFolder(MapYahooFolder(input)), "yahoo input %q", input)
		assert.True(t, ValidFolder(MapGmailLabels([]string{input})), "gmail input %q", input)
	}

	assert.True(t, ValidFolder(MapGmailLabels(nil)))
}

func TestMapGmailLabelsPriority(t *testing.T) {
	tests := []struct {
		name     string
		labels   []string
		expected CanonicalFolder
	}{
		{"trash wins over inbox", []string{"INBOX", "TRASH"}, FolderTrash},
		{"spam wins over sent", []string{"SENT", "SPAM"}, FolderSpam},
		{"draft wins over inbox", []string{"DRAFT", "INBOX"}, FolderDrafts},
		{"sent wins over inbox", []string{"INBOX", "SENT"}, FolderSent},
		{"inbox alone", []string{"INBOX", "UNREAD", "STARRED"}, FolderInbox},
		{"chat is a system folder", []string{"CHAT"}, FolderSystem},
		{"no location label means archive", []string{"UNREAD", "IMPORTANT"}, FolderArchive},
		{"empty label set means archive", nil, FolderArchive},
		{"lowercase labels", []string{"trash"}, FolderTrash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapGmailLabels(tt.labels))
		})
	}
}

func TestExtractOutlookStates(t *testing.T) {
	states := ExtractOutlookStates(OutlookFlags{
		IsRead:                  false,
		FlagStatus:              "flagged",
		Importance:              "high",
		InferenceClassification: "focused",
	})
	assert.ElementsMatch(t, []CanonicalState{StateUnread, StateStarred, StateImportant, StateFocused}, states)

	states = ExtractOutlookStates(OutlookFlags{IsRead: true, FlagStatus: "notFlagged", Importance: "normal"})
	assert.Empty(t, states)

	states = ExtractOutlookStates(OutlookFlags{IsRead: true, InferenceClassification: "other"})
	assert.Equal(t, []CanonicalState{StateOther}, states)
}

func TestExtractGmailStates(t *testing.T) {
	states := ExtractGmailStates([]string{"UNREAD", "STARRED", "IMPORTANT", "INBOX"})
	assert.ElementsMatch(t, []CanonicalState{StateUnread, StateStarred, StateImportant}, states)
}

func TestExtractYahooStates(t *testing.T) {
	assert.ElementsMatch(t, []CanonicalState{StateUnread, StateStarred}, ExtractYahooStates(false, true))
	assert.Empty(t, ExtractYahooStates(true, false))
}
