package config

// Config is the root configuration for Fabrik.
type Config struct {
	Server    ServerConfig             `yaml:"server,omitempty"`
	Providers map[string]ProviderEntry `yaml:"providers,omitempty"`
	Defaults  DefaultsConfig           `yaml:"defaults,omitempty"`
	Workspace WorkspaceConfig          `yaml:"workspace,omitempty"`
	Repair    RepairConfig             `yaml:"repair,omitempty"`
	Bus       BusConfig                `yaml:"bus,omitempty"`
	Database  DatabaseConfig           `yaml:"database,omitempty"`
	Logging   LoggingConfig            `yaml:"logging,omitempty"`
}

// ServerConfig controls the gateway HTTP/WebSocket server.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	Auth           ServerAuth `yaml:"auth,omitempty"`
}

// ServerAuth configures gateway authentication. An empty token disables
// the check (local development).
type ServerAuth struct {
	Token string `yaml:"token,omitempty"`
}

// ProviderEntry defines a language-model provider endpoint.
type ProviderEntry struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// DefaultsConfig selects fallback provider/model for new agents.
type DefaultsConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// WorkspaceConfig controls agent workspace placement.
type WorkspaceConfig struct {
	BaseDir string `yaml:"baseDir,omitempty"` // default ~/.fabrik/workspaces
	Watch   bool   `yaml:"watch,omitempty"`   // publish file-change events
}

// RepairConfig bounds the auto-repair loop.
type RepairConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// BusConfig bounds the event bus buffers.
type BusConfig struct {
	ReplayLimit     int `yaml:"replayLimit,omitempty"`     // per-topic replay buffer
	SubscriberQueue int `yaml:"subscriberQueue,omitempty"` // per-subscriber channel depth
}

// DatabaseConfig locates the run store.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"` // default ~/.fabrik/data/fabrik.db
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}
