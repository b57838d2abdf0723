package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kubeslot/kubeslot/pkg/gitref"
	"github.com/kubeslot/kubeslot/pkg/pipeline"
	"github.com/kubeslot/kubeslot/pkg/state"
	"github.com/kubeslot/kubeslot/pkg/telemetry"
)

var (
	rollbackRef        string
	rollbackEvent      string
	rollbackOverride   bool
	rollbackForce      bool
	rollbackSkipHealth bool
	rollbackRevision   int64
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Switch traffic back to the inactive slot",
	Long: `Switch the environment's traffic back to the inactive slot.

For Blue-Green environments the active slot is read from the ingress,
the inactive slot is validated (namespace exists, pods running and
ready), and the ingress backend is switched in a single update. For
rolling environments the deployment is reverted to a previous revision
instead (--revision picks one; otherwise the latest stable previous
revision is used).

After the switch the new target must report itself healthy; an explicit
DOWN fails immediately, and verification gives up after the configured
number of attempts.

Examples:
  kubeslot rollback -e prod --ref main                      # Manual rollback on a matching ref
  kubeslot rollback -e prod --ref hotfix/x --override       # Manual rollback on a non-matching ref
  kubeslot rollback -e prod --ref main --event push         # CI-triggered rollback
  kubeslot rollback -e dev --ref dev --revision 42          # Rolling environment, explicit revision`,
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().StringVar(&rollbackRef, "ref", "", "git ref this invocation acts for (required)")
	rollbackCmd.Flags().StringVar(&rollbackEvent, "event", "manual", "trigger kind: push or manual")
	rollbackCmd.Flags().BoolVar(&rollbackOverride, "override", false, "bypass the ref gate on manual invocations")
	rollbackCmd.Flags().BoolVar(&rollbackForce, "force", false, "proceed past failed slot preconditions")
	rollbackCmd.Flags().BoolVar(&rollbackSkipHealth, "skip-health-check", false, "do not verify the target's health after switching")
	rollbackCmd.Flags().Int64Var(&rollbackRevision, "revision", 0, "target revision for rolling environments (default: latest stable previous)")
	rollbackCmd.MarkFlagRequired("ref")
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, envName, env, err := loadEnvironment()
	if err != nil {
		return err
	}

	event, err := parseEvent(rollbackEvent)
	if err != nil {
		return err
	}

	runner, err := newRunner(cfg, envName, env)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Rolling back environment: %s ===\n\n", envName)

	opts := pipeline.Options{
		Ref:             rollbackRef,
		Event:           event,
		Override:        rollbackOverride,
		Force:           rollbackForce,
		SkipHealthCheck: rollbackSkipHealth,
		Revision:        rollbackRevision,
		TriggeredBy:     triggeredBy(),
	}

	ctx := cmd.Context()
	defer telemetry.Shutdown(ctx)

	lock, err := state.NewEnvironmentLock(cfg.Project.Name, envName)
	if err != nil {
		return err
	}
	if _, err := lock.Acquire(uuid.NewString(), "rollback"); err != nil {
		return err
	}
	defer lock.Release()

	report, err := runner.Rollback(ctx, opts)
	printReport(report)
	if err != nil {
		return err
	}

	fmt.Printf("\n✓ Rollback of %s complete!\n", envName)
	return nil
}

// printReport shows how far the pipeline got, for success and failure alike.
func printReport(report *pipeline.Report) {
	if report == nil {
		return
	}
	fmt.Printf("Run:         %s\n", report.RunID)
	fmt.Printf("Strategy:    %s\n", report.Strategy)
	if report.ActiveSlot != "" {
		fmt.Printf("Active slot: %s\n", report.ActiveSlot)
	}
	if report.Plan.Target != "" {
		fmt.Printf("Target:      %s\n", report.Plan.Target)
	}
	if report.Plan.TargetRevision > 0 {
		fmt.Printf("Revision:    %d\n", report.Plan.TargetRevision)
	}
	if report.Forced {
		fmt.Printf("Forced:      precondition rejection overridden (%s)\n", report.Plan.Reason)
	}
	if report.Applied != nil {
		if report.Applied.Changed {
			fmt.Printf("Routing:     %s -> %s\n", report.Applied.Host, report.Applied.BackendService)
		} else {
			fmt.Printf("Routing:     already pointing at %s (no change)\n", report.Applied.BackendService)
		}
	}
	if report.Health != nil {
		fmt.Printf("Health:      %s after %d attempt(s), %d/%d replicas ready\n",
			report.Health.Verdict, report.Health.Attempts, report.Health.Ready, report.Health.Desired)
	}
}

// parseEvent maps the --event flag onto a trigger kind.
func parseEvent(value string) (gitref.EventKind, error) {
	switch value {
	case "push":
		return gitref.EventPush, nil
	case "manual":
		return gitref.EventManual, nil
	}
	return "", fmt.Errorf("unknown event %q (expected push or manual)", value)
}
