package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/health"
	"github.com/kubeslot/kubeslot/pkg/slot"
)

var healthSlot string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Verify a slot's application health",
	Long: `Run the same health verification a rollback ends with, without
switching anything: wait for the deployment's replicas to be ready,
then probe the application's health endpoint through the pod proxy.
An explicit DOWN fails immediately; otherwise probing retries up to
the environment's configured attempts.

Without --slot the currently active slot is verified. Rolling
environments verify their single namespace.

Examples:
  kubeslot health -e prod
  kubeslot health -e prod --slot green`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthSlot, "slot", "", "slot to verify (default: the active slot)")
}

func runHealth(cmd *cobra.Command, args []string) error {
	_, envName, env, err := loadEnvironment()
	if err != nil {
		return err
	}

	client, err := cluster.NewClient(env.Cluster)
	if err != nil {
		return fmt.Errorf("failed to connect to cluster: %w", err)
	}

	ctx := cmd.Context()

	namespace := env.Namespace
	if env.IsBlueGreen() {
		target := slot.ParseSlot(healthSlot)
		if healthSlot != "" && !target.Valid() {
			return fmt.Errorf("invalid slot %q (expected blue or green)", healthSlot)
		}
		if target == slot.Unknown {
			inspector := slot.NewInspector(client)
			active, routing, err := inspector.CurrentActiveSlot(ctx, envName, env)
			if err != nil {
				return fmt.Errorf("failed to determine active slot: %w", err)
			}
			if active == slot.Unknown {
				return fmt.Errorf("cannot determine active slot: ingress backend %q matches neither blue nor green; pass --slot explicitly", routing.BackendService)
			}
			target = active
		}
		namespace = env.SlotNamespace(envName, string(target))
		fmt.Printf("\n=== Verifying slot %s of %s ===\n\n", target, envName)
	} else {
		fmt.Printf("\n=== Verifying %s ===\n\n", envName)
	}

	verifier := health.NewVerifier(client)
	result := verifier.Verify(ctx, health.Target{
		Namespace: namespace,
		App:       env.App,
		Port:      env.HealthCheck.Port,
		Path:      env.HealthPath(),
	}, env.HealthCheck.MaxAttempts, env.HealthCheck.Interval())

	fmt.Printf("Verdict:  %s\n", result.Verdict)
	fmt.Printf("Attempts: %d\n", result.Attempts)
	fmt.Printf("Replicas: %d/%d ready\n", result.Ready, result.Desired)
	if result.LastStatus != "" {
		fmt.Printf("Status:   %s\n", result.LastStatus)
	}
	if result.LastErr != nil {
		fmt.Printf("Last err: %v\n", result.LastErr)
	}

	switch result.Verdict {
	case health.VerdictHealthy:
		fmt.Printf("\n✓ %s is healthy!\n", namespace)
		return nil
	case health.VerdictUnhealthy:
		return fmt.Errorf("application in %s reports status %s", namespace, result.LastStatus)
	default:
		return fmt.Errorf("no terminal health state for %s after %d attempts", namespace, result.Attempts)
	}
}
