package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabrikhq/fabrik/internal/domain"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents on a running daemon",
	}

	cmd.AddCommand(newAgentSpawnCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentDeleteCmd())
	return cmd
}

func newAgentSpawnCmd() *cobra.Command {
	var (
		provider  string
		model     string
		workspace string
	)

	cmd := &cobra.Command{
		Use:   "spawn <name>",
		Short: "Spawn a new agent (or resume one over an existing workspace)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && workspace == "" {
				return fmt.Errorf("agent name or --workspace is required")
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			body := map[string]any{
				"provider": provider,
				"model":    model,
			}
			if len(args) > 0 {
				body["name"] = args[0]
			}
			if workspace != "" {
				body["workspacePath"] = workspace
			}

			var agent domain.Agent
			if err := client.post("/agents", body, &agent); err != nil {
				return err
			}

			fmt.Printf("Agent %s spawned\n", agent.Name)
			fmt.Printf("  id:        %s\n", agent.ID)
			fmt.Printf("  workspace: %s\n", agent.WorkspaceRoot)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider for this agent")
	cmd.Flags().StringVar(&model, "model", "", "model override for this agent")
	cmd.Flags().StringVar(&workspace, "workspace", "", "resume over an existing workspace directory")

	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents with status and workspace stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var resp struct {
				Agents []domain.AgentSummary `json:"agents"`
			}
			if err := client.get("/agents", &resp); err != nil {
				return err
			}

			if len(resp.Agents) == 0 {
				fmt.Println("No agents.")
				return nil
			}
			for _, a := range resp.Agents {
				fmt.Printf("%s  %-20s %-10s artifacts=%d pending=%d\n",
					a.ID, a.Name, a.Status,
					a.Workspace.ArtifactCount, a.Workspace.PendingApprovals)
			}
			return nil
		},
	}
}

func newAgentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Delete an agent and cancel its active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.delete("/agents/" + args[0]); err != nil {
				return err
			}
			fmt.Println("Agent deleted. Workspace files were kept on disk.")
			return nil
		},
	}
}
