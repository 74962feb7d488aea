package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabrikhq/fabrik/internal/domain"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Submit and inspect project runs",
	}

	cmd.AddCommand(newProjectSubmitCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectGetCmd())
	cmd.AddCommand(newProjectRetryCmd())
	cmd.AddCommand(newProjectCancelCmd())
	return cmd
}

func newProjectSubmitCmd() *cobra.Command {
	var (
		agentID      string
		projectType  string
		provider     string
		model        string
		withTests    bool
		validateCode bool
	)

	cmd := &cobra.Command{
		Use:   "submit <description>",
		Short: "Submit a project build to an agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return fmt.Errorf("--agent is required")
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			body := map[string]any{
				"agentId":      agentID,
				"description":  strings.Join(args, " "),
				"projectType":  projectType,
				"provider":     provider,
				"model":        model,
				"withTests":    withTests,
				"validateCode": validateCode,
			}

			var run domain.ProjectRun
			if err := client.post("/projects", body, &run); err != nil {
				return err
			}

			fmt.Printf("Run %s submitted (status %s)\n", run.ID, run.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to run on (required)")
	cmd.Flags().StringVar(&projectType, "type", "web", "project type")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider override")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().BoolVar(&withTests, "with-tests", false, "generate tests alongside code")
	cmd.Flags().BoolVar(&validateCode, "validate", true, "validate and auto-repair generated code")

	return cmd
}

func newProjectListCmd() *cobra.Command {
	var (
		agentID string
		status  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List project runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			q := url.Values{}
			if agentID != "" {
				q.Set("agentId", agentID)
			}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/projects"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp struct {
				Runs []domain.ProjectRun `json:"runs"`
			}
			if err := client.get(path, &resp); err != nil {
				return err
			}

			if len(resp.Runs) == 0 {
				fmt.Println("No runs.")
				return nil
			}
			for _, r := range resp.Runs {
				fmt.Printf("%s  %-10s attempt=%d  %s\n", r.ID, r.Status, r.Attempt, truncate(r.Description, 60))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum runs to list")

	return cmd
}

func newProjectGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one project run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var run domain.ProjectRun
			if err := client.get("/projects/"+args[0], &run); err != nil {
				return err
			}

			fmt.Printf("Run:         %s\n", run.ID)
			fmt.Printf("Agent:       %s\n", run.AgentID)
			fmt.Printf("Status:      %s (attempt %d)\n", run.Status, run.Attempt)
			fmt.Printf("Type:        %s\n", run.ProjectType)
			fmt.Printf("Provider:    %s\n", run.Provider)
			fmt.Printf("Description: %s\n", run.Description)
			if run.ArtifactPath != "" {
				fmt.Printf("Artifacts:   %s\n", run.ArtifactPath)
			}
			if run.ErrorMessage != "" {
				fmt.Printf("Error:       %s\n", run.ErrorMessage)
			}
			return nil
		},
	}
}

func newProjectRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Retry a failed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var run domain.ProjectRun
			if err := client.post("/projects/"+args[0]+"/retry", nil, &run); err != nil {
				return err
			}
			fmt.Printf("Run %s retried (attempt %d)\n", run.ID, run.Attempt)
			return nil
		},
	}
}

func newProjectCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.post("/projects/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Println("Cancellation requested. The run stops at its next step boundary.")
			return nil
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
