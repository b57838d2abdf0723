package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/slot"
)

var historySlot string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a deployment's revision history",
	Long: `List the revision history of the environment's deployment, newest
first. Revisions marked stable had all replicas ready when observed
and are eligible as automatic rollback targets for rolling
environments.

For Blue-Green environments pass --slot to pick which slot's namespace
to inspect (default: blue).

Examples:
  kubeslot history -e dev
  kubeslot history -e prod --slot green`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historySlot, "slot", "", "slot namespace to inspect for blue-green environments (default: blue)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, envName, env, err := loadEnvironment()
	if err != nil {
		return err
	}

	client, err := cluster.NewClient(env.Cluster)
	if err != nil {
		return fmt.Errorf("failed to connect to cluster: %w", err)
	}

	namespace := env.Namespace
	if env.IsBlueGreen() {
		target := slot.Blue
		if historySlot != "" {
			target = slot.ParseSlot(historySlot)
			if !target.Valid() {
				return fmt.Errorf("invalid slot %q (expected blue or green)", historySlot)
			}
		}
		namespace = env.SlotNamespace(envName, string(target))
	}

	ctx := cmd.Context()
	revisions, err := client.ListRevisions(ctx, namespace, env.App)
	if err != nil {
		return fmt.Errorf("failed to list revisions: %w", err)
	}

	current, err := client.CurrentRevision(ctx, namespace, env.App)
	if err != nil {
		return fmt.Errorf("failed to read current revision: %w", err)
	}

	fmt.Printf("\n=== Revision history: %s/%s ===\n\n", namespace, env.App)
	if len(revisions) == 0 {
		fmt.Println("No revision history found.")
		return nil
	}

	fmt.Printf("  %-10s %-30s %-8s %s\n", "REVISION", "IMAGE", "STABLE", "CREATED")
	for _, rev := range revisions {
		marker := " "
		if rev.Number == current {
			marker = "*"
		}
		stable := "no"
		if rev.Stable {
			stable = "yes"
		}
		fmt.Printf("%s %-10d %-30s %-8s %s\n", marker, rev.Number, rev.Image, stable, rev.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}
