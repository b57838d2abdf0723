package config

import (
	"fmt"
	"sort"
	"time"
)

// Strategy identifies how an environment is deployed and rolled back.
type Strategy string

const (
	// StrategyBlueGreen runs two parallel namespaces with an ingress switch.
	StrategyBlueGreen Strategy = "blue-green"
	// StrategyRolling runs a single namespace with revision-history rollback.
	StrategyRolling Strategy = "rolling"
)

// Config represents the main configuration structure
type Config struct {
	Project       ProjectConfig                `yaml:"project"`
	Notifications *NotificationsConfig         `yaml:"notifications,omitempty"`
	Environments  map[string]EnvironmentConfig `yaml:"environments"`
}

// ProjectConfig defines project metadata
type ProjectConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
}

// NotificationsConfig defines notification settings
type NotificationsConfig struct {
	Slack          string `yaml:"slack,omitempty"`          // Slack webhook URL
	Discord        string `yaml:"discord,omitempty"`        // Discord webhook URL
	Webhook        string `yaml:"webhook,omitempty"`        // Generic webhook URL
	TelegramToken  string `yaml:"telegramToken,omitempty"`  // Telegram bot token
	TelegramChatID int64  `yaml:"telegramChatId,omitempty"` // Telegram chat to notify
}

// ClusterConfig identifies the cluster an environment runs on.
// An empty kubeconfig means in-cluster configuration is tried first,
// then the default kubeconfig resolution.
type ClusterConfig struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"` // Path to kubeconfig file
	Context    string `yaml:"context,omitempty"`    // Kubeconfig context to use
}

// RefRuleConfig binds an environment to the git refs allowed to deploy it.
// Exactly one of branch, branchPrefix, or tagAny must be set.
type RefRuleConfig struct {
	Branch       string `yaml:"branch,omitempty"`       // Exact branch name (e.g. "dev")
	BranchPrefix string `yaml:"branchPrefix,omitempty"` // Branch prefix (e.g. "release/")
	TagAny       bool   `yaml:"tagAny,omitempty"`       // Any tag ref
}

// HealthCheckConfig defines post-switch health verification settings
type HealthCheckConfig struct {
	Path            string `yaml:"path,omitempty"` // Health endpoint path (default: /<app>/actuator/health)
	Port            int    `yaml:"port,omitempty"` // Container port serving the endpoint (default: 8080)
	MaxAttempts     int    `yaml:"maxAttempts,omitempty"`
	IntervalSeconds int    `yaml:"intervalSeconds,omitempty"`
}

// Interval returns the probe interval as a duration.
func (h HealthCheckConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

// EnvironmentConfig defines a deployable environment
type EnvironmentConfig struct {
	Strategy Strategy      `yaml:"strategy"`
	App      string        `yaml:"app"`  // Application name, used in the namespace convention
	Host     string        `yaml:"host"` // Public hostname routed by the ingress
	Cluster  ClusterConfig `yaml:"cluster,omitempty"`

	// Ingress carrying the public route.
	IngressName      string `yaml:"ingressName"`
	IngressNamespace string `yaml:"ingressNamespace"`

	// Namespace is the single workload namespace for rolling environments.
	// Blue-Green environments derive slot namespaces from the
	// {env}-{app}-{slot} convention instead.
	Namespace string `yaml:"namespace,omitempty"`

	Ref         RefRuleConfig     `yaml:"ref"`
	HealthCheck HealthCheckConfig `yaml:"healthCheck,omitempty"`
}

// IsBlueGreen reports whether the environment uses the Blue-Green topology.
func (e EnvironmentConfig) IsBlueGreen() bool {
	return e.Strategy == StrategyBlueGreen
}

// SlotNamespace returns the namespace for one slot of a Blue-Green
// environment, following the {env}-{app}-{slot} convention.
func (e EnvironmentConfig) SlotNamespace(envName, slot string) string {
	return fmt.Sprintf("%s-%s-%s", envName, e.App, slot)
}

// HealthPath returns the configured health endpoint path, or the
// actuator default for the environment's application.
func (e EnvironmentConfig) HealthPath() string {
	if e.HealthCheck.Path != "" {
		return e.HealthCheck.Path
	}
	return fmt.Sprintf("/%s/actuator/health", e.App)
}

// Environment returns the named environment or an error listing the
// configured ones.
func (c *Config) Environment(name string) (EnvironmentConfig, error) {
	env, ok := c.Environments[name]
	if !ok {
		return EnvironmentConfig{}, fmt.Errorf("environment %s not found in configuration (configured: %v)", name, c.EnvironmentNames())
	}
	return env, nil
}

// EnvironmentNames returns the configured environment names, sorted.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
