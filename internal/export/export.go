// Package export renders workspace data as downloadable files.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lunabot/luna/internal/errors"
	"github.com/lunabot/luna/internal/memory"
)

type Format string

const (
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// ParseFormat accepts the format names users type.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", errors.InvalidInput("unknown export format %q", s)
	}
}

type notesExport struct {
	Workspace  string    `json:"workspace" yaml:"workspace"`
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Notes      string    `json:"notes" yaml:"notes"`
}

type historyExport struct {
	Workspace  string        `json:"workspace" yaml:"workspace"`
	ExportedAt time.Time     `json:"exported_at" yaml:"exported_at"`
	Turns      []memory.Turn `json:"turns" yaml:"turns"`
}

func filename(kind, workspace string, format Format) string {
	return fmt.Sprintf("luna_%s_%s_%s.%s", kind, workspace, time.Now().UTC().Format("2006-01-02"), format)
}

// Notes renders the note log in the requested format and returns the
// payload with a suggested filename.
func Notes(format Format, workspace, notes string) ([]byte, string, error) {
	name := filename("notes", workspace, format)
	switch format {
	case FormatMarkdown:
		header := fmt.Sprintf("# Notes — %s\n", workspace)
		return []byte(header + notes), name, nil
	case FormatJSON:
		data, err := json.MarshalIndent(notesExport{Workspace: workspace, ExportedAt: time.Now().UTC(), Notes: notes}, "", "  ")
		return data, name, err
	case FormatYAML:
		data, err := yaml.Marshal(notesExport{Workspace: workspace, ExportedAt: time.Now().UTC(), Notes: notes})
		return data, name, err
	default:
		return nil, "", errors.InvalidInput("unknown export format %q", format)
	}
}

// History renders conversation turns in the requested format.
func History(format Format, workspace string, turns []memory.Turn) ([]byte, string, error) {
	name := filename("history", workspace, format)
	switch format {
	case FormatMarkdown:
		var b strings.Builder
		fmt.Fprintf(&b, "# History — %s\n\n", workspace)
		for _, turn := range turns {
			fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", turn.Role, turn.Timestamp.Format("2006-01-02 15:04"), turn.Content)
		}
		return []byte(b.String()), name, nil
	case FormatJSON:
		data, err := json.MarshalIndent(historyExport{Workspace: workspace, ExportedAt: time.Now().UTC(), Turns: turns}, "", "  ")
		return data, name, err
	case FormatYAML:
		data, err := yaml.Marshal(historyExport{Workspace: workspace, ExportedAt: time.Now().UTC(), Turns: turns})
		return data, name, err
	default:
		return nil, "", errors.InvalidInput("unknown export format %q", format)
	}
}
