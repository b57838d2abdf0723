package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubeslot/kubeslot/pkg/gitref"
)

var (
	gateRef      string
	gateEvent    string
	gateOverride bool
	gateOutput   string
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Check whether a ref may act on an environment",
	Long: `Evaluate the environment's ref rule against a git ref without
touching the cluster. Exits 0 when the invocation would be allowed and
1 when it would be rejected, so CI pipelines can gate on it.

Push events never honor an override: an automatic trigger from the
wrong ref is always rejected. Manual invocations on a non-matching ref
are allowed only with --override.

Examples:
  kubeslot gate -e prod --ref main --event push
  kubeslot gate -e prod --ref hotfix/x --override
  kubeslot gate -e prod --ref main --output json`,
	RunE: runGate,
}

func init() {
	rootCmd.AddCommand(gateCmd)
	gateCmd.Flags().StringVar(&gateRef, "ref", "", "git ref to evaluate (required)")
	gateCmd.Flags().StringVar(&gateEvent, "event", "manual", "trigger kind: push or manual")
	gateCmd.Flags().BoolVar(&gateOverride, "override", false, "bypass the ref gate on manual invocations")
	gateCmd.Flags().StringVarP(&gateOutput, "output", "o", "text", "output format: text or json")
	gateCmd.MarkFlagRequired("ref")
}

func runGate(cmd *cobra.Command, args []string) error {
	_, envName, env, err := loadEnvironment()
	if err != nil {
		return err
	}

	event, err := parseEvent(gateEvent)
	if err != nil {
		return err
	}

	pattern, err := gitref.FromRule(env.Ref)
	if err != nil {
		return fmt.Errorf("environment %s has no usable ref rule: %w", envName, err)
	}

	decision := gitref.Resolve(gitref.Request{
		Ref:         gateRef,
		Event:       event,
		Override:    gateOverride,
		Environment: envName,
		Pattern:     pattern,
	})

	if gateOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(decision); err != nil {
			return err
		}
	} else if decision.Allowed {
		fmt.Printf("✓ allowed: %s\n", decision.Reason)
	} else {
		fmt.Printf("✗ rejected: %s\n", decision.Reason)
	}

	if !decision.Allowed {
		return fmt.Errorf("ref %s is not allowed to act on %s", gateRef, envName)
	}
	return nil
}
