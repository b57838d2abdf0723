package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name searched for when no
// --config flag is given.
const DefaultConfigFile = "kubeslot.yaml"

const (
	defaultHealthPort        = 8080
	defaultHealthMaxAttempts = 10
	defaultHealthInterval    = 10
)

// LoadConfig reads, expands, and validates a configuration file.
// Environment variable references of the form ${VAR} in the file are
// expanded before parsing, so secrets like webhook URLs can stay out
// of the file itself.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in defaults for optional settings
func (c *Config) applyDefaults() {
	for name, env := range c.Environments {
		if env.HealthCheck.Port == 0 {
			env.HealthCheck.Port = defaultHealthPort
		}
		if env.HealthCheck.MaxAttempts == 0 {
			env.HealthCheck.MaxAttempts = defaultHealthMaxAttempts
		}
		if env.HealthCheck.IntervalSeconds == 0 {
			env.HealthCheck.IntervalSeconds = defaultHealthInterval
		}
		if env.IngressNamespace == "" && env.Namespace != "" {
			env.IngressNamespace = env.Namespace
		}
		c.Environments[name] = env
	}
}

// Validate checks the configuration for problems that would otherwise
// surface mid-pipeline, with one error per offending environment.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	if len(c.Environments) == 0 {
		return fmt.Errorf("at least one environment must be configured")
	}

	for _, name := range c.EnvironmentNames() {
		env := c.Environments[name]
		if err := validateEnvironment(name, env); err != nil {
			return err
		}
	}
	return nil
}

func validateEnvironment(name string, env EnvironmentConfig) error {
	switch env.Strategy {
	case StrategyBlueGreen, StrategyRolling:
	case "":
		return fmt.Errorf("environment %s: strategy is required (blue-green or rolling)", name)
	default:
		return fmt.Errorf("environment %s: unknown strategy %q (expected blue-green or rolling)", name, env.Strategy)
	}

	if env.App == "" {
		return fmt.Errorf("environment %s: app is required", name)
	}
	if env.Host == "" {
		return fmt.Errorf("environment %s: host is required", name)
	}
	if env.IngressName == "" {
		return fmt.Errorf("environment %s: ingressName is required", name)
	}
	if env.IngressNamespace == "" {
		return fmt.Errorf("environment %s: ingressNamespace is required", name)
	}

	if env.Strategy == StrategyRolling && env.Namespace == "" {
		return fmt.Errorf("environment %s: namespace is required for rolling environments", name)
	}

	ruleCount := 0
	if env.Ref.Branch != "" {
		ruleCount++
	}
	if env.Ref.BranchPrefix != "" {
		ruleCount++
	}
	if env.Ref.TagAny {
		ruleCount++
	}
	if ruleCount != 1 {
		return fmt.Errorf("environment %s: exactly one of ref.branch, ref.branchPrefix, or ref.tagAny must be set", name)
	}

	return nil
}
