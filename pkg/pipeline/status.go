package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
	"github.com/kubeslot/kubeslot/pkg/slot"
	"github.com/kubeslot/kubeslot/pkg/traffic"
)

// EnvironmentStatus is a read-only snapshot of an environment for the
// status command.
type EnvironmentStatus struct {
	Environment string
	Strategy    config.Strategy

	// Blue-Green
	ActiveSlot slot.Slot
	Routing    *cluster.RoutingState
	Slots      map[slot.Slot]cluster.PodSummary
	LastSwitch map[string]string // audit annotations, if present

	// Rolling
	Revisions []cluster.Revision
}

// Status reads the environment's live state. Both slots' pod summaries
// are fetched in parallel; nothing is mutated.
func (r *Runner) Status(ctx context.Context) (*EnvironmentStatus, error) {
	status := &EnvironmentStatus{
		Environment: r.envName,
		Strategy:    r.env.Strategy,
	}

	if !r.env.IsBlueGreen() {
		revisions, err := r.statusRevisions.ListRevisions(ctx, r.env.Namespace, r.env.App)
		if err != nil {
			return nil, err
		}
		status.Revisions = revisions
		return status, nil
	}

	active, routing, err := r.inspector.CurrentActiveSlot(ctx, r.envName, r.env)
	if err != nil {
		return nil, err
	}
	status.ActiveSlot = active
	status.Routing = routing
	status.LastSwitch = auditAnnotations(routing.Annotations)

	status.Slots = make(map[slot.Slot]cluster.PodSummary, 2)
	var blue, green cluster.PodSummary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		blue, err = r.statusWorkloads.PodSummary(gctx, r.env.SlotNamespace(r.envName, string(slot.Blue)), r.env.App)
		return err
	})
	g.Go(func() error {
		var err error
		green, err = r.statusWorkloads.PodSummary(gctx, r.env.SlotNamespace(r.envName, string(slot.Green)), r.env.App)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	status.Slots[slot.Blue] = blue
	status.Slots[slot.Green] = green
	return status, nil
}

// auditAnnotations extracts the kubeslot audit annotations from the
// routing resource.
func auditAnnotations(annotations map[string]string) map[string]string {
	keys := []string{
		traffic.AnnotationActiveSlot,
		traffic.AnnotationSwitchedAt,
		traffic.AnnotationStrategy,
		traffic.AnnotationTarget,
		traffic.AnnotationTriggeredBy,
		traffic.AnnotationRunID,
	}
	audit := make(map[string]string)
	for _, key := range keys {
		if v, ok := annotations[key]; ok {
			audit[key] = v
		}
	}
	return audit
}
