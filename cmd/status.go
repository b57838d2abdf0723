package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/slot"
	"github.com/kubeslot/kubeslot/pkg/traffic"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which slot is active and what both slots are running",
	Long: `Show the environment's live state: the slot the ingress currently
routes traffic to, pod counts for both slots, and the audit trail of
the last switch. Rolling environments show their revision history
instead. Nothing is mutated.

Examples:
  kubeslot status -e prod
  kubeslot status -e prod --output json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text or json")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, envName, env, err := loadEnvironment()
	if err != nil {
		return err
	}

	runner, err := newRunner(cfg, envName, env)
	if err != nil {
		return err
	}

	status, err := runner.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read environment state: %w", err)
	}

	if statusOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Printf("\n=== Environment: %s ===\n\n", envName)
	fmt.Printf("Strategy: %s\n", status.Strategy)

	if !env.IsBlueGreen() {
		fmt.Printf("Namespace: %s\n\n", env.Namespace)
		printRevisions(status.Revisions)
		return nil
	}

	fmt.Printf("Host:     %s\n", env.Host)
	if status.ActiveSlot == slot.Unknown {
		fmt.Printf("Active:   unknown (ingress backend %q matches neither slot)\n", status.Routing.BackendService)
	} else {
		fmt.Printf("Active:   %s (%s)\n", status.ActiveSlot, status.Routing.BackendService)
	}

	fmt.Printf("\nSlots:\n")
	for _, s := range []slot.Slot{slot.Blue, slot.Green} {
		pods := status.Slots[s]
		marker := " "
		if s == status.ActiveSlot {
			marker = "*"
		}
		fmt.Printf("  %s %-6s %s: %d/%d pods ready (%d running)\n",
			marker, s, env.SlotNamespace(envName, string(s)), pods.Ready, pods.Total, pods.Running)
	}

	if len(status.LastSwitch) > 0 {
		fmt.Printf("\nLast switch:\n")
		if v, ok := status.LastSwitch[traffic.AnnotationSwitchedAt]; ok {
			fmt.Printf("  When:         %s\n", v)
		}
		if v, ok := status.LastSwitch[traffic.AnnotationActiveSlot]; ok {
			fmt.Printf("  To slot:      %s\n", v)
		}
		if v, ok := status.LastSwitch[traffic.AnnotationTriggeredBy]; ok {
			fmt.Printf("  Triggered by: %s\n", v)
		}
		if v, ok := status.LastSwitch[traffic.AnnotationRunID]; ok {
			fmt.Printf("  Run:          %s\n", v)
		}
	}

	return nil
}

// printRevisions renders a revision history table, newest first.
func printRevisions(revisions []cluster.Revision) {
	if len(revisions) == 0 {
		fmt.Println("No revision history found.")
		return
	}
	fmt.Printf("%-10s %-30s %-8s %s\n", "REVISION", "IMAGE", "STABLE", "CREATED")
	for _, rev := range revisions {
		stable := "no"
		if rev.Stable {
			stable = "yes"
		}
		fmt.Printf("%-10d %-30s %-8s %s\n", rev.Number, rev.Image, stable, rev.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
