package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(20)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	codeStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("238"))
)

func printError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func field(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// stateStyle colours a project state
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "ready":
		return successStyle
	case "ready_with_warnings", "indexing", "syncing":
		return warnStyle
	default:
		return errorStyle
	}
}
