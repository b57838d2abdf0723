package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kubeslot/kubeslot/pkg/pipeline"
	"github.com/kubeslot/kubeslot/pkg/slot"
	"github.com/kubeslot/kubeslot/pkg/state"
	"github.com/kubeslot/kubeslot/pkg/telemetry"
)

var (
	promoteSlot       string
	promoteRef        string
	promoteEvent      string
	promoteOverride   bool
	promoteForce      bool
	promoteSkipHealth bool
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Switch traffic onto a named slot",
	Long: `Switch the environment's traffic onto an explicitly named slot,
regardless of which slot is currently active. The target slot is
validated the same way a rollback target is, and promoting the already
active slot succeeds without touching the ingress.

Only Blue-Green environments can be promoted by slot.

Examples:
  kubeslot promote -e prod --slot green --ref main
  kubeslot promote -e prod --slot blue --ref main --skip-health-check`,
	RunE: runPromote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)
	promoteCmd.Flags().StringVar(&promoteSlot, "slot", "", "target slot: blue or green (required)")
	promoteCmd.Flags().StringVar(&promoteRef, "ref", "", "git ref this invocation acts for (required)")
	promoteCmd.Flags().StringVar(&promoteEvent, "event", "manual", "trigger kind: push or manual")
	promoteCmd.Flags().BoolVar(&promoteOverride, "override", false, "bypass the ref gate on manual invocations")
	promoteCmd.Flags().BoolVar(&promoteForce, "force", false, "proceed past failed slot preconditions")
	promoteCmd.Flags().BoolVar(&promoteSkipHealth, "skip-health-check", false, "do not verify the target's health after switching")
	promoteCmd.MarkFlagRequired("slot")
	promoteCmd.MarkFlagRequired("ref")
}

func runPromote(cmd *cobra.Command, args []string) error {
	cfg, envName, env, err := loadEnvironment()
	if err != nil {
		return err
	}

	target := slot.ParseSlot(promoteSlot)
	if !target.Valid() {
		return fmt.Errorf("invalid slot %q (expected blue or green)", promoteSlot)
	}

	event, err := parseEvent(promoteEvent)
	if err != nil {
		return err
	}

	runner, err := newRunner(cfg, envName, env)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Promoting slot %s in environment: %s ===\n\n", target, envName)

	ctx := cmd.Context()
	defer telemetry.Shutdown(ctx)

	lock, err := state.NewEnvironmentLock(cfg.Project.Name, envName)
	if err != nil {
		return err
	}
	if _, err := lock.Acquire(uuid.NewString(), "promote"); err != nil {
		return err
	}
	defer lock.Release()

	report, err := runner.Promote(ctx, target, pipeline.Options{
		Ref:             promoteRef,
		Event:           event,
		Override:        promoteOverride,
		Force:           promoteForce,
		SkipHealthCheck: promoteSkipHealth,
		TriggeredBy:     triggeredBy(),
	})
	printReport(report)
	if err != nil {
		return err
	}

	fmt.Printf("\n✓ Slot %s now carries traffic for %s!\n", target, envName)
	return nil
}
