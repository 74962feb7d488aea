package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabrikhq/fabrik/internal/config"
	"github.com/fabrikhq/fabrik/internal/llm"
	"github.com/fabrikhq/fabrik/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fabrik status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Fabrik %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:     %s\n", paths.Config)
			fmt.Printf("Data:       %s\n", paths.Data)
			fmt.Printf("Workspaces: %s\n", paths.Workspaces)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:     error loading: %v\n", err)
				return nil
			}

			auth := "off"
			if cfg.Server.Auth.Token != "" {
				auth = "token"
			}
			fmt.Printf("Server:    port=%d bind=%s auth=%s\n", cfg.Server.Port, cfg.Server.Bind, auth)
			fmt.Printf("Repair:    maxAttempts=%d\n", cfg.Repair.MaxAttempts)
			fmt.Printf("Bus:       replay=%d queue=%d\n", cfg.Bus.ReplayLimit, cfg.Bus.SubscriberQueue)
			fmt.Printf("Database:  %s\n", paths.DatabasePath(cfg.Database))

			registry := llm.NewRegistryFromConfig(cfg.Providers, cfg.Defaults, log)
			providers := registry.List()
			if len(providers) > 0 {
				fmt.Printf("Providers: %s (default %s)\n", strings.Join(providers, ", "), cfg.Defaults.Provider)
			} else {
				fmt.Println("Providers: (none configured)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
