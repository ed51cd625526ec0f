// Package config handles worker configuration and the .mic-worker
// directory structure. Every machine running the worker gets a
// .mic-worker/ folder holding its database, logs, and workspaces.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkerDir is the name of the state directory created under the
	// configured home.
	WorkerDir = ".mic-worker"

	configFilename = "worker.yaml"
)

// Defaults applied when worker.yaml omits a field.
const (
	DefaultMaxConcurrency   = 15
	DefaultPollInterval     = 10 * time.Second
	DefaultCancelInterval   = 3 * time.Second
	DefaultWatchInterval    = 2 * time.Second
	DefaultTailInterval     = 500 * time.Millisecond
	DefaultDebounceWindow   = 800 * time.Millisecond
	DefaultSettleDelay      = 2 * time.Second
	DefaultBridgeListenAddr = "127.0.0.1:7953"
)

const defaultWorkerConfigYAML = `# mic-worker configuration
version: 1

# Command used to run the external coding/research agent.
agent:
  command: claude
  args: ["-p", "--verbose", "--output-format", "stream-json"]

# Instruction documents hashed into the prompt version.
prompts:
  dir: prompts
  guidelines:
    - GUIDELINES.md

scheduler:
  max_concurrency: 15
  poll_interval: 10s

bridge:
  listen_addr: 127.0.0.1:7953

# Optional webhook receiving task lifecycle notifications.
# notify:
#   webhook_url: https://example.com/hooks/mic
`

// Duration decodes YAML values like "10s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// AgentConfig describes how to spawn the external agent process.
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// PromptsConfig locates instruction documents for prompt assembly and
// version hashing.
type PromptsConfig struct {
	Dir        string   `yaml:"dir"`
	Guidelines []string `yaml:"guidelines"`
}

// SchedulerConfig tunes the dispatch loop.
type SchedulerConfig struct {
	MaxConcurrency int      `yaml:"max_concurrency"`
	PollInterval   Duration `yaml:"poll_interval"`
}

// BridgeConfig configures the loopback side-channel server.
type BridgeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// FileConfig models the on-disk worker.yaml schema.
type FileConfig struct {
	Version   int             `yaml:"version"`
	Agent     AgentConfig     `yaml:"agent"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// Config holds the resolved runtime configuration.
type Config struct {
	// Home is the directory holding .mic-worker.
	Home string
	// WorkerHome is Home/.mic-worker.
	WorkerHome string

	File FileConfig
}

// Init creates the .mic-worker directory structure under home and seeds
// a default worker.yaml when none exists.
func Init(home string) error {
	workerHome := filepath.Join(home, WorkerDir)
	dirs := []string{
		filepath.Join(workerHome, "logs"),
		filepath.Join(workerHome, "tasklogs"),
		filepath.Join(workerHome, "workspaces"),
		filepath.Join(workerHome, "prompts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: ensure %s: %w", dir, err)
		}
	}
	return ensureWorkerConfig(filepath.Join(workerHome, configFilename))
}

// Load resolves configuration for home, initializing the directory
// structure when needed.
func Load(home string) (*Config, error) {
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: resolve working directory: %w", err)
		}
		home = cwd
	}
	if err := Init(home); err != nil {
		return nil, err
	}
	cfg := &Config{
		Home:       home,
		WorkerHome: filepath.Join(home, WorkerDir),
		File:       defaultFileConfig(),
	}
	path := filepath.Join(cfg.WorkerHome, configFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg.File); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// StorePath returns the sqlite database location.
func (c *Config) StorePath() string {
	return filepath.Join(c.WorkerHome, "tasks.db")
}

// LogsDir returns the worker diagnostic log directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.WorkerHome, "logs")
}

// TaskLogsDir returns the per-task execution log directory.
func (c *Config) TaskLogsDir() string {
	return filepath.Join(c.WorkerHome, "tasklogs")
}

// WorkspacesDir returns the root under which new-project directories are
// allocated.
func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.WorkerHome, "workspaces")
}

// PromptsDir returns the instruction document directory.
func (c *Config) PromptsDir() string {
	dir := c.File.Prompts.Dir
	if dir == "" {
		dir = "prompts"
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(c.WorkerHome, dir)
}

// GuidelinePaths returns absolute paths of the higher-level guideline
// documents included in the prompt version hash.
func (c *Config) GuidelinePaths() []string {
	out := make([]string, 0, len(c.File.Prompts.Guidelines))
	for _, g := range c.File.Prompts.Guidelines {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if filepath.IsAbs(g) {
			out = append(out, filepath.Clean(g))
			continue
		}
		out = append(out, filepath.Join(c.WorkerHome, g))
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.File.Agent.Command == "" {
		c.File.Agent.Command = "claude"
	}
	if len(c.File.Agent.Args) == 0 {
		c.File.Agent.Args = []string{"-p", "--verbose", "--output-format", "stream-json"}
	}
	if c.File.Scheduler.MaxConcurrency <= 0 {
		c.File.Scheduler.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.File.Scheduler.PollInterval <= 0 {
		c.File.Scheduler.PollInterval = Duration(DefaultPollInterval)
	}
	if c.File.Bridge.ListenAddr == "" {
		c.File.Bridge.ListenAddr = DefaultBridgeListenAddr
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.File.Agent.Command) == "" {
		return fmt.Errorf("agent.command is required")
	}
	if c.File.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	return nil
}

func defaultFileConfig() FileConfig {
	var cfg FileConfig
	// The seeded YAML is the single source for defaults so a fresh
	// install and a hand-written minimal file behave identically.
	_ = yaml.Unmarshal([]byte(defaultWorkerConfigYAML), &cfg)
	return cfg
}

func ensureWorkerConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultWorkerConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: seed %s: %w", path, err)
	}
	return nil
}
