package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatbycard/internal/event"
	"chatbycard/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run and inspect agent workflows",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run [workflow-id]",
	Short: "Execute a workflow",
	Long: `Execute a multi-node agent workflow. The definition is fetched from
the backend by id, or read from a local JSON file with --file. Template
variables are supplied with --set.

Examples:
  # Run a workflow from the backend
  chatbycard workflow run wf-review --set language=English

  # Run a local definition
  chatbycard workflow run --file review.json --set language=English --set tone=casual`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkflow,
}

var (
	workflowFile string
	workflowVars []string
)

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowRunCmd)

	workflowRunCmd.Flags().StringVarP(&workflowFile, "file", "f", "", "Read the workflow definition from a local JSON file")
	workflowRunCmd.Flags().StringArrayVar(&workflowVars, "set", nil, "Set a template variable as name=value (repeatable)")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := resolveWorkflow(cmd, args, a)
	if err != nil {
		return err
	}

	vars, err := parseVariables(workflowVars)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	a.bus.Subscribe("workflow.node_started", func(e event.Event) {
		if evt, ok := e.(event.WorkflowNodeStartedEvent); ok {
			fmt.Fprintf(out, "→ node %d: %s\n", evt.NodeIndex, evt.NodeName)
		}
	})
	a.bus.Subscribe("workflow.node_completed", func(e event.Event) {
		if evt, ok := e.(event.WorkflowNodeCompletedEvent); ok {
			fmt.Fprintf(out, "✓ node %d done\n", evt.NodeIndex)
		}
	})

	runner := workflow.NewRunner(
		a.orch.Conversation(),
		a.orch.StepManager(),
		a.bus,
		a.client,
		a.logger,
		a.cfg.Workflow.NodeDelay(),
	)

	fmt.Fprintf(out, "Running workflow %q (%d agent nodes)\n", wf.Name, wf.AgentNodeCount())
	if err := runner.Start(cmd.Context(), wf, vars); err != nil {
		return err
	}
	<-runner.Done()

	if err := runner.Err(); err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}

	// Print each node's output in execution order.
	for _, turn := range a.orch.Conversation().Turns() {
		if turn.Input.Workflow == nil || turn.Input.Workflow.NodeIndex < 0 {
			continue
		}
		fmt.Fprintf(out, "\n=== %s ===\n%s\n", turn.Input.Workflow.NodeName, turn.Response.Content)
	}
	return nil
}

// resolveWorkflow loads the definition from --file or fetches it from
// the backend by id.
func resolveWorkflow(cmd *cobra.Command, args []string, a *app) (*workflow.Workflow, error) {
	if workflowFile != "" {
		return workflow.LoadFile(workflowFile)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("provide a workflow id or --file")
	}
	data, err := a.client.FetchWorkflow(cmd.Context(), args[0])
	if err != nil {
		return nil, fmt.Errorf("fetch workflow %s: %w", args[0], err)
	}
	return workflow.Parse(data)
}

// parseVariables turns repeated name=value flags into a variable map.
func parseVariables(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set value %q, expected name=value", pair)
		}
		vars[name] = value
	}
	return vars, nil
}
