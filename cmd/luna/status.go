package main

import (
	"fmt"
	"strings"

	"github.com/lunabot/luna/internal/adapter"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspaces, reminders and spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(adapter.NewNull())
		if err != nil {
			return err
		}
		defer comps.sched.Stop()

		fmt.Println(renderStatus(comps))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func renderStatus(comps *components) string {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")

	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Foreground(gray).Padding(0, 1)
	borderStyle := lipgloss.NewStyle().Foreground(purple)

	workspaces := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Workspace", "Mode", "Model", "Soul", "Notes")

	current := comps.workspaces.Current()
	for _, name := range comps.workspaces.List() {
		info := comps.workspaces.Info(name)
		model := info.Model
		if model == "" {
			model = cfg.Models.Default
		}
		marker := name
		if name == current {
			marker = name + " *"
		}
		workspaces.Row(marker, info.Mode, model, yesNo(info.HasSoul), yesNo(info.HasNotes))
	}

	reminders := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("ID", "When", "Message")

	for _, r := range comps.reminders.List(0, "") {
		reminders.Row(r.ID, r.TriggerAt.Format("Mon Jan 2 15:04"), truncate(r.Message, 40))
	}

	var b strings.Builder
	b.WriteString(workspaces.String())
	b.WriteString("\n")
	if comps.reminders.Count() > 0 {
		b.WriteString(reminders.String())
		b.WriteString("\n")
	} else {
		b.WriteString("No pending reminders.\n")
	}
	fmt.Fprintf(&b, "Providers: %s\n", strings.Join(comps.router.Providers(), ", "))
	fmt.Fprintf(&b, "Spend since reset: $%.2f\n", comps.ledger.TotalCost())
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "-"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
