package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
	"github.com/kubeslot/kubeslot/pkg/logging"
	"github.com/kubeslot/kubeslot/pkg/notification"
	"github.com/kubeslot/kubeslot/pkg/pipeline"
	"github.com/kubeslot/kubeslot/pkg/telemetry"
)

var (
	cfgFile  string
	verbose  bool
	envFlag  string
	jsonLogs bool
	// Version, GitCommit, and BuildTime are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kubeslot",
	Short: "Control Blue-Green deployment slots on Kubernetes",
	Long: `Kubeslot controls which deployment slot of an environment receives
production traffic. Each Blue-Green environment runs two parallel
namespaces ({env}-{app}-blue and {env}-{app}-green); the active slot is
the one the environment's ingress routes the public host to. Rollbacks
switch the ingress to the inactive slot after validating it can take
traffic, then verify the application actually reports itself healthy.

Environments deployed with the rolling strategy are rolled back through
the deployment's revision history instead.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// GetVersionInfo returns formatted version information
func GetVersionInfo() string {
	info := fmt.Sprintf("kubeslot %s", Version)
	if GitCommit != "unknown" && GitCommit != "" {
		info += fmt.Sprintf(" (commit: %s)", GitCommit)
	}
	if BuildTime != "unknown" && BuildTime != "" {
		info += fmt.Sprintf("\nBuilt: %s", BuildTime)
	}
	return info
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Pipeline failures are printed with their full
// explanation (which check failed, what state the cluster is in).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var failure *pipeline.Failure
		if errors.As(err, &failure) {
			fmt.Fprintln(os.Stderr, failure.Explain())
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set custom version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(`kubeslot {{.Version}}
Commit:  %s
Built:   %s
`, GitCommit, BuildTime))

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kubeslot.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "", "environment to operate on (required by most commands)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "structured JSON logs instead of console output")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
	viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

// findEnvFile searches for .env file in current directory and parent directories
func findEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Search up to 10 levels up
	for i := 0; i < 10; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return ""
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	// Load .env file from current or parent directories
	envFile := findEnvFile()
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for kubeslot.yaml in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("kubeslot")
	}

	viper.AutomaticEnv() // read in environment variables that match
	viper.SetEnvPrefix("KUBESLOT")

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	logging.Init(logging.Config{
		Verbose:    verbose,
		JSONOutput: jsonLogs,
	})

	tcfg := telemetry.DefaultConfig()
	if tcfg.ServiceVersion == "dev" {
		tcfg.ServiceVersion = Version
	}
	if err := telemetry.Init(tcfg); err != nil && verbose {
		fmt.Fprintln(os.Stderr, "Warning: tracing disabled:", err)
	}
}

// loadEnvironment loads the configuration and resolves the environment
// named by --env. Commands that operate on one environment start here.
func loadEnvironment() (*config.Config, string, config.EnvironmentConfig, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, "", config.EnvironmentConfig{}, fmt.Errorf("failed to load config: %w", err)
	}

	envName := envFlag
	if envName == "" {
		names := cfg.EnvironmentNames()
		if len(names) == 1 {
			envName = names[0]
		} else {
			return nil, "", config.EnvironmentConfig{}, fmt.Errorf("--env is required (configured: %v)", names)
		}
	}

	env, err := cfg.Environment(envName)
	if err != nil {
		return nil, "", config.EnvironmentConfig{}, err
	}
	return cfg, envName, env, nil
}

// newRunner wires a pipeline runner for the environment: cluster
// client from the environment's cluster settings, notifier from the
// project's notification settings.
func newRunner(cfg *config.Config, envName string, env config.EnvironmentConfig) (*pipeline.Runner, error) {
	client, err := cluster.NewClient(env.Cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	var notifications config.NotificationsConfig
	if cfg.Notifications != nil {
		notifications = *cfg.Notifications
	}
	notifier := notification.NewNotifier(notifications, verbose)

	return pipeline.NewRunner(cfg.Project.Name, envName, env, client, notifier), nil
}

// triggeredBy identifies the invoking operator for audit annotations
// and notifications.
func triggeredBy() string {
	if actor := os.Getenv("GITHUB_ACTOR"); actor != "" {
		return actor
	}
	if actor := os.Getenv("GITLAB_USER_LOGIN"); actor != "" {
		return actor
	}
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s@%s", username, hostname)
}
