package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kubeslot/kubeslot/pkg/health"
	"github.com/kubeslot/kubeslot/pkg/notification"
	"github.com/kubeslot/kubeslot/pkg/slot"
	"github.com/kubeslot/kubeslot/pkg/telemetry"
	"github.com/kubeslot/kubeslot/pkg/traffic"
)

// Promote switches traffic directly onto an operator-named slot,
// running the same gate, validation, switch, and verification sequence
// as a rollback. Promoting the already-active slot is an idempotent
// success.
func (r *Runner) Promote(ctx context.Context, target slot.Slot, opts Options) (*Report, error) {
	if !r.env.IsBlueGreen() {
		return nil, fmt.Errorf("environment %s uses the %s strategy and cannot be promoted by slot", r.envName, r.env.Strategy)
	}

	report := &Report{
		RunID:       uuid.NewString(),
		Project:     r.projectName,
		Environment: r.envName,
		Strategy:    r.env.Strategy,
	}
	log := r.log.With().Str("run_id", report.RunID).Logger()

	_, gateSpan := telemetry.TraceGate(ctx, r.envName, opts.Ref)
	report.Gate = r.resolveGate(opts)
	gateSpan.End()
	if !report.Gate.Allowed {
		return report, &Failure{
			Kind:         FailurePermissionDenied,
			Reason:       report.Gate.Reason,
			ClusterState: "unchanged; no cluster operation was attempted",
		}
	}

	inspectCtx, inspectSpan := telemetry.TraceInspect(ctx, r.envName)
	active, routing, err := r.inspector.CurrentActiveSlot(inspectCtx, r.envName, r.env)
	inspectSpan.End()
	if err != nil {
		return report, &Failure{
			Kind:         FailureAmbiguousState,
			Reason:       "could not read routing state",
			Cause:        err,
			ClusterState: "unchanged; routing was not modified",
		}
	}
	report.ActiveSlot = active

	planCtx, planSpan := telemetry.TracePlan(ctx, r.envName)
	plan, err := r.planner.ValidateTarget(planCtx, r.envName, r.env, target)
	planSpan.End()
	if err != nil {
		return report, &Failure{
			Kind:         FailurePreconditionFailed,
			Reason:       "could not validate the target slot",
			Cause:        err,
			ClusterState: "unchanged; routing was not modified",
		}
	}
	report.Plan = plan
	if !plan.Approved {
		if !opts.Force || !plan.Target.Valid() {
			return report, &Failure{
				Kind:         FailurePreconditionFailed,
				Reason:       plan.Reason,
				ClusterState: "unchanged; routing was not modified",
			}
		}
		report.Forced = true
		plan.TargetNamespace = r.env.SlotNamespace(r.envName, string(plan.Target))
		report.Plan = plan
		log.Warn().Str("reason", plan.Reason).Msg("precondition rejection overridden by --force")
	}

	switchCtx, switchSpan := telemetry.TraceSwitch(ctx, r.envName, string(target))
	applied, err := r.switcher.Switch(switchCtx, traffic.Request{
		EnvName:     r.envName,
		Env:         r.env,
		Target:      target,
		Routing:     routing,
		TriggeredBy: opts.TriggeredBy,
		RunID:       report.RunID,
	})
	switchSpan.End()
	if err != nil {
		return report, &Failure{
			Kind:         FailureSwitchFailed,
			Reason:       fmt.Sprintf("routing update to slot %s did not complete", target),
			Cause:        err,
			ClusterState: fmt.Sprintf("traffic still points at slot %s; re-run after checking the ingress", active),
		}
	}
	report.Applied = applied

	if applied.Changed {
		r.notify(notification.Event{
			Type:        notification.EventTrafficSwitched,
			Project:     r.projectName,
			Environment: r.envName,
			RunID:       report.RunID,
			Message:     fmt.Sprintf("Traffic for %s promoted to slot %s", r.envName, target),
			Details: map[string]string{
				"Namespace": plan.TargetNamespace,
			},
		})
	}

	if opts.SkipHealthCheck {
		log.Warn().Msg("health verification skipped by request")
		return report, nil
	}
	failure := r.verifyHealth(ctx, report, health.Target{
		Namespace: plan.TargetNamespace,
		App:       r.env.App,
		Port:      r.env.HealthCheck.Port,
		Path:      r.env.HealthPath(),
	}, fmt.Sprintf("traffic already switched to slot %s", target))
	if failure != nil {
		return report, failure
	}
	return report, nil
}
