package slot

import (
	"context"
	"fmt"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
)

// WorkloadReader reads workload state for precondition checks.
// Satisfied by *cluster.Client.
type WorkloadReader interface {
	NamespaceExists(ctx context.Context, name string) (bool, error)
	PodSummary(ctx context.Context, namespace, app string) (cluster.PodSummary, error)
}

// RevisionReader reads rolling-deployment history. Satisfied by
// *cluster.Client.
type RevisionReader interface {
	ListRevisions(ctx context.Context, namespace, app string) ([]cluster.Revision, error)
	CurrentRevision(ctx context.Context, namespace, app string) (int64, error)
}

// RollbackDecision is the validated outcome of a rollback request.
// Rejections carry distinct, user-facing reasons; a generic "failed"
// is never produced.
type RollbackDecision struct {
	Approved bool
	Reason   string

	// Blue-Green target
	Target          Slot
	TargetNamespace string

	// Rolling target
	TargetRevision int64
}

// Planner validates rollback preconditions and computes the target.
type Planner struct {
	workloads WorkloadReader
	revisions RevisionReader
}

// NewPlanner creates a planner backed by the given readers.
func NewPlanner(workloads WorkloadReader, revisions RevisionReader) *Planner {
	return &Planner{workloads: workloads, revisions: revisions}
}

// Plan computes the inactive slot and validates it can take traffic:
// the namespace must exist, hold at least one running pod, and at
// least one running pod must be ready. Each failed precondition yields
// its own rejection reason.
func (p *Planner) Plan(ctx context.Context, envName string, env config.EnvironmentConfig, active Slot) (RollbackDecision, error) {
	if active == Unknown {
		return RollbackDecision{
			Approved: false,
			Reason:   "cannot determine active slot: routing backend matches neither blue nor green naming convention",
		}, nil
	}

	return p.ValidateTarget(ctx, envName, env, active.Other())
}

// ValidateTarget checks that a named slot can take traffic. Used both
// for rollback planning (target = complement of active) and for direct
// promotion of an operator-named slot.
func (p *Planner) ValidateTarget(ctx context.Context, envName string, env config.EnvironmentConfig, target Slot) (RollbackDecision, error) {
	if !target.Valid() {
		return RollbackDecision{
			Approved: false,
			Reason:   fmt.Sprintf("%q is not a valid slot (expected blue or green)", target),
		}, nil
	}

	namespace := env.SlotNamespace(envName, string(target))

	exists, err := p.workloads.NamespaceExists(ctx, namespace)
	if err != nil {
		return RollbackDecision{}, err
	}
	if !exists {
		return RollbackDecision{
			Approved: false,
			Reason:   fmt.Sprintf("target slot namespace %s does not exist", namespace),
			Target:   target,
		}, nil
	}

	pods, err := p.workloads.PodSummary(ctx, namespace, env.App)
	if err != nil {
		return RollbackDecision{}, err
	}
	if pods.Running == 0 {
		return RollbackDecision{
			Approved: false,
			Reason:   fmt.Sprintf("no running pods for %s in target slot namespace %s", env.App, namespace),
			Target:   target,
		}, nil
	}
	if pods.Ready == 0 {
		return RollbackDecision{
			Approved: false,
			Reason:   fmt.Sprintf("no ready pods for %s in target slot namespace %s (%d running, none ready)", env.App, namespace, pods.Running),
			Target:   target,
		}, nil
	}

	return RollbackDecision{
		Approved:        true,
		Reason:          fmt.Sprintf("target slot %s has %d/%d ready pods", target, pods.Ready, pods.Running),
		Target:          target,
		TargetNamespace: namespace,
	}, nil
}

// PlanRolling validates a revision-history rollback for rolling
// environments. When requestedRevision is zero the latest stable
// revision older than the current one is chosen.
func (p *Planner) PlanRolling(ctx context.Context, envName string, env config.EnvironmentConfig, requestedRevision int64) (RollbackDecision, error) {
	revisions, err := p.revisions.ListRevisions(ctx, env.Namespace, env.App)
	if err != nil {
		return RollbackDecision{}, err
	}
	if len(revisions) == 0 {
		return RollbackDecision{
			Approved: false,
			Reason:   fmt.Sprintf("no revision history found for %s in %s", env.App, env.Namespace),
		}, nil
	}

	current, err := p.revisions.CurrentRevision(ctx, env.Namespace, env.App)
	if err != nil {
		return RollbackDecision{}, err
	}

	if requestedRevision > 0 {
		for _, rev := range revisions {
			if rev.Number == requestedRevision {
				if rev.Number == current {
					return RollbackDecision{
						Approved: false,
						Reason:   fmt.Sprintf("revision %d is already the current revision of %s", requestedRevision, env.App),
					}, nil
				}
				return RollbackDecision{
					Approved:        true,
					Reason:          fmt.Sprintf("revision %d found in history of %s", requestedRevision, env.App),
					TargetNamespace: env.Namespace,
					TargetRevision:  requestedRevision,
				}, nil
			}
		}
		return RollbackDecision{
			Approved: false,
			Reason:   fmt.Sprintf("revision %d not found in history of %s (current: %d)", requestedRevision, env.App, current),
		}, nil
	}

	// Newest-first order; pick the first stable revision older than
	// the current one.
	for _, rev := range revisions {
		if rev.Number < current && rev.Stable {
			return RollbackDecision{
				Approved:        true,
				Reason:          fmt.Sprintf("latest stable previous revision is %d", rev.Number),
				TargetNamespace: env.Namespace,
				TargetRevision:  rev.Number,
			}, nil
		}
	}

	return RollbackDecision{
		Approved: false,
		Reason:   fmt.Sprintf("no stable previous revision exists for %s (current: %d)", env.App, current),
	}, nil
}
