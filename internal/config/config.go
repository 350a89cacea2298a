package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models annotrack.yml. It is stored per project in the DB and
// importable from a workspace file.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"project" json:"project"`
	Checks struct {
		Catalog map[string]struct {
			Description string `yaml:"description" json:"description"`
		} `yaml:"catalog" json:"catalog"`
	} `yaml:"checks" json:"checks"`
	Tasks struct {
		DefaultChecks         string  `yaml:"default_checks" json:"default_checks"`
		DefaultTargetCoverage int     `yaml:"default_target_coverage" json:"default_target_coverage"`
		DefaultPriority       int     `yaml:"default_priority" json:"default_priority"`
		DefaultFreezeDelay    float64 `yaml:"default_freeze_delay_days" json:"default_freeze_delay_days"`
	} `yaml:"tasks" json:"tasks"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig describes one outbound event subscription.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Tasks.DefaultTargetCoverage < 0 {
		return fmt.Errorf("config.tasks.default_target_coverage must be >= 0")
	}
	if c.Tasks.DefaultFreezeDelay < 0 {
		return fmt.Errorf("config.tasks.default_freeze_delay_days must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "annotrack.yml")
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, projectID, projectID)), &cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil, nil if the workspace config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: %s

checks:
  catalog:
    automatic_worktime:
      description: "Extract tracing time from the annotation and credit the increment"
    check_simple:
      description: "Annotation must contain exactly one non-empty tree"
    check_seed_contained:
      description: "Annotation must contain a node at the task seed position"
    check_connected_component:
      description: "All nodes of the tree must be connected"

tasks:
  default_checks: "automatic_worktime check_simple"
  default_target_coverage: 3
  default_priority: 1
  default_freeze_delay_days: 0
`
