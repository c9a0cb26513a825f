package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatbycard/internal/conversation"
	"chatbycard/internal/event"
	"chatbycard/internal/orchestrator"
	"chatbycard/internal/step"
)

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask an agent a single question",
	Long: `Ask an AI agent a question, optionally grounded in referenced
documents. The response is printed to stdout; with streaming enabled
(the default) chunks appear as the backend produces them.

Examples:
  # Ask agent 7 a question
  chatbycard chat --agent 7 "Summarize the attached contract"

  # Ground the question in two documents
  chatbycard chat --agent 7 --doc 12 --doc 13 "What changed between these?"`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

var (
	chatAgentID string
	chatDocs    []string
	chatVerbose bool
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&chatAgentID, "agent", "a", "", "Agent ID to answer the question (required)")
	chatCmd.Flags().StringArrayVarP(&chatDocs, "doc", "d", nil, "Document ID to ground the question in (repeatable)")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Show processing steps")
	_ = chatCmd.MarkFlagRequired("agent")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Print streamed content as it lands on the turn. The event only
	// signals the change; content is re-read from the log snapshot.
	printed := 0
	a.bus.Subscribe("turn.updated", func(e event.Event) {
		evt, ok := e.(event.TurnUpdatedEvent)
		if !ok || evt.Status != string(conversation.StatusStreaming) {
			return
		}
		turn, ok := a.orch.Conversation().Turn(evt.TurnID)
		if !ok {
			return
		}
		if len(turn.Response.Content) > printed {
			fmt.Fprint(cmd.OutOrStdout(), turn.Response.Content[printed:])
			printed = len(turn.Response.Content)
		}
	})

	turn, err := a.orch.Submit(cmd.Context(), orchestrator.SubmitRequest{
		AgentID:   chatAgentID,
		Documents: orchestrator.DocumentRefs(chatDocs),
		UserInput: args[0],
	})
	if err != nil {
		if turn.ID != "" && turn.Response.Content != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), turn.Response.Content)
		}
		return err
	}

	// Blocking mode prints everything at once; streaming mode prints
	// whatever the chunk handler did not get to.
	if len(turn.Response.Content) > printed {
		fmt.Fprint(cmd.OutOrStdout(), turn.Response.Content[printed:])
	}
	fmt.Fprintln(cmd.OutOrStdout())

	if chatVerbose {
		printSteps(cmd, turn.Response.Steps)
	}
	return nil
}

func printSteps(cmd *cobra.Command, steps []step.Step) {
	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr())
	for _, s := range steps {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s %s\n", stepSymbol(s.Status), s.Content)
	}
}

func stepSymbol(status step.Status) string {
	switch status {
	case step.StatusCompleted:
		return "✓"
	case step.StatusError:
		return "✗"
	case step.StatusProcessing:
		return "…"
	default:
		return "·"
	}
}
