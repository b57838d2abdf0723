// Package pipeline orchestrates the rollback sequence: permission gate,
// slot inspection, planning, traffic switch, health verification. Steps
// run strictly in that order; no step starts before the previous one
// completed, and no step swallows an error from the step before it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
	"github.com/kubeslot/kubeslot/pkg/gitref"
	"github.com/kubeslot/kubeslot/pkg/health"
	"github.com/kubeslot/kubeslot/pkg/logging"
	"github.com/kubeslot/kubeslot/pkg/notification"
	"github.com/kubeslot/kubeslot/pkg/slot"
	"github.com/kubeslot/kubeslot/pkg/telemetry"
	"github.com/kubeslot/kubeslot/pkg/traffic"
)

// Notifier reports pipeline events. Notification failures are logged,
// never propagated.
type Notifier interface {
	Notify(event notification.Event) error
}

// Reverter performs revision-history rollbacks for rolling
// environments. Satisfied by *cluster.Client.
type Reverter interface {
	RollbackToRevision(ctx context.Context, namespace, app string, revision int64) error
}

// Options carries the operator's invocation inputs.
type Options struct {
	Ref             string
	Event           gitref.EventKind
	Override        bool // bypass the ref gate on manual invocations
	Force           bool // proceed past failed planner preconditions
	SkipHealthCheck bool
	Revision        int64 // rolling environments: explicit target revision
	TriggeredBy     string
}

// Report is the outcome of a pipeline run, for operator display.
type Report struct {
	RunID       string
	Project     string
	Environment string
	Strategy    config.Strategy

	Gate       gitref.PermissionDecision
	ActiveSlot slot.Slot
	Plan       slot.RollbackDecision
	Applied    *cluster.AppliedRouting
	Health     *health.Result
	Forced     bool
}

// Runner wires the pipeline components for one environment.
type Runner struct {
	projectName string
	envName     string
	env         config.EnvironmentConfig

	inspector *slot.Inspector
	planner   *slot.Planner
	switcher  *traffic.Switcher
	verifier  *health.Verifier
	reverter  Reverter
	notifier  Notifier

	statusWorkloads slot.WorkloadReader
	statusRevisions slot.RevisionReader

	log zerolog.Logger
}

// NewRunner builds a runner around one cluster client.
func NewRunner(projectName, envName string, env config.EnvironmentConfig, client *cluster.Client, notifier Notifier) *Runner {
	return &Runner{
		projectName: projectName,
		envName:     envName,
		env:         env,
		inspector:   slot.NewInspector(client),
		planner:     slot.NewPlanner(client, client),
		switcher:    traffic.NewSwitcher(client),
		verifier:    health.NewVerifier(client),
		reverter:    client,
		notifier:    notifier,

		statusWorkloads: client,
		statusRevisions: client,

		log: logging.WithEnvironment(envName),
	}
}

// Components allows custom component wiring, used by tests and by
// callers that need to substitute a single collaborator.
type Components struct {
	Inspector *slot.Inspector
	Planner   *slot.Planner
	Switcher  *traffic.Switcher
	Verifier  *health.Verifier
	Reverter  Reverter
	Notifier  Notifier
	Workloads slot.WorkloadReader
	Revisions slot.RevisionReader
}

// NewRunnerFromComponents builds a runner from pre-wired components.
func NewRunnerFromComponents(projectName, envName string, env config.EnvironmentConfig, c Components) *Runner {
	return &Runner{
		projectName: projectName,
		envName:     envName,
		env:         env,
		inspector:   c.Inspector,
		planner:     c.Planner,
		switcher:    c.Switcher,
		verifier:    c.Verifier,
		reverter:    c.Reverter,
		notifier:    c.Notifier,

		statusWorkloads: c.Workloads,
		statusRevisions: c.Revisions,

		log: logging.WithEnvironment(envName),
	}
}

// Rollback runs the full pipeline. The returned Report is always
// populated as far as the pipeline got; on failure err is a *Failure
// describing which check failed and what state the cluster is left in.
func (r *Runner) Rollback(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		RunID:       uuid.NewString(),
		Project:     r.projectName,
		Environment: r.envName,
		Strategy:    r.env.Strategy,
	}
	log := r.log.With().Str("run_id", report.RunID).Logger()

	// Step 1: permission gate. Pure decision, no cluster access.
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
	log.Info().Str("reason", report.Gate.Reason).Msg("ref gate passed")

	r.notify(notification.Event{
		Type:        notification.EventRollbackStarted,
		Project:     r.projectName,
		Environment: r.envName,
		RunID:       report.RunID,
		Message:     fmt.Sprintf("Rollback of %s started by %s", r.envName, opts.TriggeredBy),
	})

	var failure *Failure
	if r.env.IsBlueGreen() {
		failure = r.rollbackBlueGreen(ctx, opts, report, log)
	} else {
		failure = r.rollbackRolling(ctx, opts, report, log)
	}

	if failure != nil {
		r.notify(notification.Event{
			Type:        notification.EventRollbackFailed,
			Project:     r.projectName,
			Environment: r.envName,
			RunID:       report.RunID,
			Message:     fmt.Sprintf("Rollback of %s failed", r.envName),
			Error:       failure.Error(),
		})
		return report, failure
	}

	r.notify(notification.Event{
		Type:        notification.EventRollbackSucceeded,
		Project:     r.projectName,
		Environment: r.envName,
		RunID:       report.RunID,
		Message:     r.successMessage(report),
	})
	return report, nil
}

// rollbackBlueGreen inspects, plans, switches, and verifies.
func (r *Runner) rollbackBlueGreen(ctx context.Context, opts Options, report *Report, log zerolog.Logger) *Failure {
	// Step 2: determine current state from live routing.
	inspectCtx, inspectSpan := telemetry.TraceInspect(ctx, r.envName)
	active, routing, err := r.inspector.CurrentActiveSlot(inspectCtx, r.envName, r.env)
	inspectSpan.End()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return &Failure{
			Kind:         FailureAmbiguousState,
			Reason:       "could not read routing state",
			Cause:        err,
			ClusterState: "unchanged; routing was not modified",
		}
	}
	report.ActiveSlot = active
	if active == slot.Unknown {
		return &Failure{
			Kind:         FailureAmbiguousState,
			Reason:       fmt.Sprintf("ingress backend %q matches neither blue nor green namespace for %s; inspect the cluster manually", routing.BackendService, r.envName),
			ClusterState: "unchanged; routing was not modified",
		}
	}
	log.Info().Str("active_slot", string(active)).Msg("active slot determined")

	// Step 3: plan and validate preconditions.
	planCtx, planSpan := telemetry.TracePlan(ctx, r.envName)
	plan, err := r.planner.Plan(planCtx, r.envName, r.env, active)
	planSpan.End()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return &Failure{
			Kind:         FailurePreconditionFailed,
			Reason:       "could not validate the inactive slot",
			Cause:        err,
			ClusterState: "unchanged; routing was not modified",
		}
	}
	report.Plan = plan
	if !plan.Approved {
		if !opts.Force || !plan.Target.Valid() {
			return &Failure{
				Kind:         FailurePreconditionFailed,
				Reason:       plan.Reason,
				ClusterState: "unchanged; routing was not modified",
			}
		}
		// Forced past a precondition rejection: the target is still
		// computable, the operator owns the risk.
		report.Forced = true
		plan.TargetNamespace = r.env.SlotNamespace(r.envName, string(plan.Target))
		report.Plan = plan
		log.Warn().Str("reason", plan.Reason).Msg("precondition rejection overridden by --force")
	}

	// Step 4: atomic traffic switch with the inspector's CAS token.
	switchCtx, switchSpan := telemetry.TraceSwitch(ctx, r.envName, string(plan.Target))
	applied, err := r.switcher.Switch(switchCtx, traffic.Request{
		EnvName:     r.envName,
		Env:         r.env,
		Target:      plan.Target,
		Routing:     routing,
		TriggeredBy: opts.TriggeredBy,
		RunID:       report.RunID,
	})
	switchSpan.End()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return &Failure{
			Kind:         FailureSwitchFailed,
			Reason:       fmt.Sprintf("routing update to slot %s did not complete", plan.Target),
			Cause:        err,
			ClusterState: fmt.Sprintf("traffic still points at slot %s; re-run after checking the ingress", active),
		}
	}
	report.Applied = applied

	r.notify(notification.Event{
		Type:        notification.EventTrafficSwitched,
		Project:     r.projectName,
		Environment: r.envName,
		RunID:       report.RunID,
		Message:     fmt.Sprintf("Traffic for %s switched from %s to %s", r.envName, active, plan.Target),
		Details: map[string]string{
			"Namespace": plan.TargetNamespace,
		},
	})

	// Step 5: verify the slot now carrying traffic.
	if opts.SkipHealthCheck {
		log.Warn().Msg("health verification skipped by request")
		return nil
	}
	return r.verifyHealth(ctx, report, health.Target{
		Namespace: plan.TargetNamespace,
		App:       r.env.App,
		Port:      r.env.HealthCheck.Port,
		Path:      r.env.HealthPath(),
	}, fmt.Sprintf("traffic already switched to slot %s", plan.Target))
}

// rollbackRolling validates revision history and reverts the single
// namespace's deployment.
func (r *Runner) rollbackRolling(ctx context.Context, opts Options, report *Report, log zerolog.Logger) *Failure {
	planCtx, planSpan := telemetry.TracePlan(ctx, r.envName)
	plan, err := r.planner.PlanRolling(planCtx, r.envName, r.env, opts.Revision)
	planSpan.End()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return &Failure{
			Kind:         FailurePreconditionFailed,
			Reason:       "could not read revision history",
			Cause:        err,
			ClusterState: "unchanged; the deployment was not modified",
		}
	}
	report.Plan = plan
	if !plan.Approved {
		return &Failure{
			Kind:         FailurePreconditionFailed,
			Reason:       plan.Reason,
			ClusterState: "unchanged; the deployment was not modified",
		}
	}
	log.Info().Int64("revision", plan.TargetRevision).Msg("rolling back to revision")

	switchCtx, switchSpan := telemetry.TraceSwitch(ctx, r.envName, fmt.Sprintf("revision-%d", plan.TargetRevision))
	err = r.reverter.RollbackToRevision(switchCtx, r.env.Namespace, r.env.App, plan.TargetRevision)
	switchSpan.End()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return &Failure{
			Kind:         FailureSwitchFailed,
			Reason:       fmt.Sprintf("rollback to revision %d did not complete", plan.TargetRevision),
			Cause:        err,
			ClusterState: "the deployment may be mid-rollout; check its status before re-running",
		}
	}

	if opts.SkipHealthCheck {
		log.Warn().Msg("health verification skipped by request")
		return nil
	}
	return r.verifyHealth(ctx, report, health.Target{
		Namespace: r.env.Namespace,
		App:       r.env.App,
		Port:      r.env.HealthCheck.Port,
		Path:      r.env.HealthPath(),
	}, fmt.Sprintf("deployment already reverted to revision %d", plan.TargetRevision))
}

// verifyHealth runs the bounded health verification and maps the
// verdict onto the failure taxonomy. mutationState describes the
// mutation that already happened, so the operator knows what the
// cluster looks like when verification does not pass.
func (r *Runner) verifyHealth(ctx context.Context, report *Report, target health.Target, mutationState string) *Failure {
	healthCtx, healthSpan := telemetry.TraceHealthCheck(ctx, target.Namespace, target.App)
	result := r.verifier.Verify(healthCtx, target, r.env.HealthCheck.MaxAttempts, r.env.HealthCheck.Interval())
	healthSpan.End()
	report.Health = &result

	switch result.Verdict {
	case health.VerdictHealthy:
		return nil
	case health.VerdictUnhealthy:
		r.notify(notification.Event{
			Type:        notification.EventHealthDegraded,
			Project:     r.projectName,
			Environment: r.envName,
			RunID:       report.RunID,
			Message:     fmt.Sprintf("Target of %s rollback reports status %s", r.envName, result.LastStatus),
		})
		return &Failure{
			Kind:         FailureHealthRejected,
			Reason:       fmt.Sprintf("application reported status %s after replicas became ready", result.LastStatus),
			ClusterState: mutationState + ", but the application reports itself broken; consider switching back",
		}
	default:
		return &Failure{
			Kind:         FailureHealthTimeout,
			Reason:       fmt.Sprintf("no terminal health state after %d attempts (%d/%d replicas ready)", result.Attempts, result.Ready, result.Desired),
			Cause:        result.LastErr,
			ClusterState: mutationState + ", but health verification did not pass; investigate before relying on this rollback",
		}
	}
}

// resolveGate evaluates the ref gate against the environment's rule.
// A broken ref rule is treated as a rejection, never an allow.
func (r *Runner) resolveGate(opts Options) gitref.PermissionDecision {
	pattern, err := gitref.FromRule(r.env.Ref)
	if err != nil {
		return gitref.PermissionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("environment %s has no usable ref rule: %v", r.envName, err),
		}
	}
	return gitref.Resolve(gitref.Request{
		Ref:         opts.Ref,
		Event:       opts.Event,
		Override:    opts.Override,
		Environment: r.envName,
		Pattern:     pattern,
	})
}

func (r *Runner) successMessage(report *Report) string {
	if report.Strategy == config.StrategyBlueGreen {
		return fmt.Sprintf("Rollback of %s complete: traffic on slot %s", r.envName, report.Plan.Target)
	}
	return fmt.Sprintf("Rollback of %s complete: deployment at revision %d", r.envName, report.Plan.TargetRevision)
}

// notify reports an event, logging delivery problems instead of
// failing the pipeline over them.
func (r *Runner) notify(event notification.Event) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(event); err != nil {
		r.log.Warn().Err(err).Str("event", string(event.Type)).Msg("notification delivery failed")
	}
}
