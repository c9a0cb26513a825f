package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"chatbycard/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the interactive terminal interface",
	Long: `Start the interactive terminal interface: a scrolling conversation
view with live processing steps and an input box for follow-up
questions. The agent and document grounding are fixed for the session.`,
	RunE: runTUI,
}

var (
	tuiAgentID   string
	tuiAgentName string
	tuiDocs      []string
)

func init() {
	rootCmd.AddCommand(tuiCmd)

	tuiCmd.Flags().StringVarP(&tuiAgentID, "agent", "a", "", "Agent ID to chat with (required)")
	tuiCmd.Flags().StringVar(&tuiAgentName, "agent-name", "", "Display name for the agent")
	tuiCmd.Flags().StringArrayVarP(&tuiDocs, "doc", "d", nil, "Document ID to ground questions in (repeatable)")
	_ = tuiCmd.MarkFlagRequired("agent")
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	model := tui.New(a.orch, a.bus, tui.Options{
		AgentID:     tuiAgentID,
		AgentName:   tuiAgentName,
		DocumentIDs: tuiDocs,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}
	return nil
}
