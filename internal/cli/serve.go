package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabrikhq/fabrik/internal/agents"
	"github.com/fabrikhq/fabrik/internal/bus"
	"github.com/fabrikhq/fabrik/internal/config"
	"github.com/fabrikhq/fabrik/internal/engine"
	"github.com/fabrikhq/fabrik/internal/gateway"
	"github.com/fabrikhq/fabrik/internal/llm"
	"github.com/fabrikhq/fabrik/internal/logging"
	"github.com/fabrikhq/fabrik/internal/store"
	"github.com/fabrikhq/fabrik/internal/validate"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fabrik daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if logLevel == "" && cfg.Logging.Level != "" {
				log = logging.New(nil, cfg.Logging.Level)
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			db, err := store.Open(paths.DatabasePath(cfg.Database), log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			runs := store.NewRunStore(db)
			agentStore := store.NewAgentStore(db)

			eventBus := bus.New(bus.Options{
				ReplayLimit:     cfg.Bus.ReplayLimit,
				SubscriberQueue: cfg.Bus.SubscriberQueue,
			}, log)

			registry := llm.NewRegistryFromConfig(cfg.Providers, cfg.Defaults, log)
			log.Info().Strs("providers", registry.List()).Msg("LLM providers available")

			eng := engine.New(runs, eventBus, registry, validate.NewStatic(),
				cfg.Repair.MaxAttempts, log)

			manager, err := agents.New(agentStore, runs, eventBus, eng,
				paths.WorkspaceBase(cfg.Workspace), cfg.Workspace.Watch, log)
			if err != nil {
				return fmt.Errorf("initializing agent manager: %w", err)
			}
			defer manager.Close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := gateway.New(cfg.Server, manager, runs, eventBus, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
