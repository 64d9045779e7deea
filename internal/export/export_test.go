package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lunabot/luna/internal/memory"
)

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"":         FormatMarkdown,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
		"JSON":     FormatJSON,
		"yml":      FormatYAML,
	} {
		got, err := ParseFormat(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestNotesMarkdown(t *testing.T) {
	data, name, err := Notes(FormatMarkdown, "home", "## today\n\nfact\n")
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Notes — home")
	assert.Contains(t, string(data), "fact")
	assert.Contains(t, name, "luna_notes_home_")
	assert.Contains(t, name, ".md")
}

func TestNotesJSONRoundTrips(t *testing.T) {
	data, _, err := Notes(FormatJSON, "home", "fact")
	require.NoError(t, err)

	var out notesExport
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "home", out.Workspace)
	assert.Equal(t, "fact", out.Notes)
}

func TestHistoryYAML(t *testing.T) {
	turns := []memory.Turn{
		{Role: memory.RoleUser, Content: "hi", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Role: memory.RoleAssistant, Content: "hello", Timestamp: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)},
	}
	data, name, err := History(FormatYAML, "work", turns)
	require.NoError(t, err)
	assert.Contains(t, name, ".yaml")

	var out historyExport
	require.NoError(t, yaml.Unmarshal(data, &out))
	require.Len(t, out.Turns, 2)
	assert.Equal(t, "hi", out.Turns[0].Content)
}

func TestHistoryMarkdown(t *testing.T) {
	turns := []memory.Turn{{Role: memory.RoleUser, Content: "question", Timestamp: time.Now()}}
	data, _, err := History(FormatMarkdown, "work", turns)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**user**")
	assert.Contains(t, string(data), "question")
}
