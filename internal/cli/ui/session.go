package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/optimiscs/ZhimoWanxiang/internal/cli/types"
)

var (
	// Tree node styles
	sessionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)  // Cyan
	keyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))            // Gray
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true) // Pink

	// Summary line style
	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)
)

// RenderSessionList renders chat sessions as a tree, one node per
// session with its settings underneath. currentID marks the session
// the chat command would resume.
func RenderSessionList(sessions []types.ChatSession, currentID string) string {
	if len(sessions) == 0 {
		return keyStyle.Render("No sessions found")
	}

	var output string
	for i, session := range sessions {
		node := buildSessionNode(session, session.ID == currentID)
		output += node.String()
		if i < len(sessions)-1 {
			output += "\n"
		}
	}

	return output
}

// buildSessionNode creates a tree node for one chat session
func buildSessionNode(session types.ChatSession, current bool) *tree.Tree {
	label := sessionStyle.Render(session.Title)
	if current {
		label += " " + highlightStyle.Render("(current)")
	}

	node := tree.New().Root(label)
	node.Child(formatKeyValue("ID:", session.ID))

	model := session.Settings.Model
	if model == "" {
		model = "default"
	}
	searchState := "off"
	if session.Settings.EnableSearch {
		searchState = "on"
	}
	node.Child(formatKeyValue("Model:", fmt.Sprintf("%s (temp %.1f, search %s)",
		model, session.Settings.Temperature, searchState)))

	if session.UpdatedAt != "" {
		node.Child(formatKeyValue("Updated:", session.UpdatedAt))
	}

	return node
}

// formatKeyValue formats a key-value pair
func formatKeyValue(key, value string) string {
	return fmt.Sprintf("%s %s",
		keyStyle.Render(key),
		value,
	)
}

// RenderSessionSummary renders the closing summary line
func RenderSessionSummary(count int) string {
	label := "sessions"
	if count == 1 {
		label = "session"
	}

	summary := fmt.Sprintf("Total: %s %s",
		highlightStyle.Render(fmt.Sprintf("%d", count)),
		keyStyle.Render(label),
	)

	return summaryStyle.Render(summary)
}
