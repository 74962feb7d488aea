package config

import "fmt"

// Issue is a single validation finding with its config path.
type Issue struct {
	Path    string
	Message string
}

// Validate checks a loaded config for inconsistencies. It returns all
// findings rather than stopping at the first.
func Validate(cfg *Config) []Issue {
	var issues []Issue

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		issues = append(issues, Issue{
			Path:    "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", cfg.Server.Port),
		})
	}

	switch cfg.Server.Bind {
	case "loopback", "lan", "custom":
	default:
		issues = append(issues, Issue{
			Path:    "server.bind",
			Message: fmt.Sprintf("unknown bind mode %q (expected loopback, lan, or custom)", cfg.Server.Bind),
		})
	}
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, Issue{
			Path:    "server.customBindHost",
			Message: "bind mode custom requires customBindHost",
		})
	}

	if cfg.Repair.MaxAttempts < 1 {
		issues = append(issues, Issue{
			Path:    "repair.maxAttempts",
			Message: "maxAttempts must be at least 1",
		})
	}
	if cfg.Bus.ReplayLimit < 0 {
		issues = append(issues, Issue{
			Path:    "bus.replayLimit",
			Message: "replayLimit must not be negative",
		})
	}
	if cfg.Bus.SubscriberQueue < 1 {
		issues = append(issues, Issue{
			Path:    "bus.subscriberQueue",
			Message: "subscriberQueue must be at least 1",
		})
	}

	if _, ok := cfg.Providers[cfg.Defaults.Provider]; !ok && len(cfg.Providers) > 0 {
		issues = append(issues, Issue{
			Path:    "defaults.provider",
			Message: fmt.Sprintf("default provider %q is not configured", cfg.Defaults.Provider),
		})
	}

	return issues
}
