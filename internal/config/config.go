package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Defaults: DefaultsConfig{
			Provider: "ollama",
		},
		Repair: RepairConfig{
			MaxAttempts: 3,
		},
		Bus: BusConfig{
			ReplayLimit:     200,
			SubscriberQueue: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
