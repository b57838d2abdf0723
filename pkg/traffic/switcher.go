// Package traffic performs the atomic routing update that moves an
// environment's public host onto a slot.
package traffic

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
	"github.com/kubeslot/kubeslot/pkg/logging"
	"github.com/kubeslot/kubeslot/pkg/slot"
)

// Audit annotations written onto the routing resource with every
// switch, for later inspection with kubectl describe.
const (
	AnnotationActiveSlot  = "kubeslot.io/active-slot"
	AnnotationSwitchedAt  = "kubeslot.io/switched-at"
	AnnotationStrategy    = "kubeslot.io/strategy"
	AnnotationTarget      = "kubeslot.io/target-namespace"
	AnnotationTriggeredBy = "kubeslot.io/triggered-by"
	AnnotationRunID       = "kubeslot.io/run-id"
)

// RoutingWriter performs routing updates. Satisfied by *cluster.Client.
type RoutingWriter interface {
	UpdateRoutingBackend(ctx context.Context, req cluster.UpdateRoutingRequest) (*cluster.AppliedRouting, error)
}

// Request describes one traffic switch. Routing must be the state
// captured by the inspector in this same pipeline run: its resource
// version is the compare-and-swap guard against concurrent switches.
type Request struct {
	EnvName     string
	Env         config.EnvironmentConfig
	Target      slot.Slot
	Routing     *cluster.RoutingState
	TriggeredBy string
	RunID       string
}

// Switcher points the routing resource at a target slot. It never
// retries: a failed routing change must stay visible to the operator,
// and re-running the pipeline is safe because the inspector re-reads
// live state.
type Switcher struct {
	routing RoutingWriter
	log     zerolog.Logger
}

// NewSwitcher creates a switcher backed by the given routing writer.
func NewSwitcher(routing RoutingWriter) *Switcher {
	return &Switcher{
		routing: routing,
		log:     logging.WithComponent("traffic"),
	}
}

// Switch performs the backend swap in a single update that also writes
// the audit annotations. Switching to the already-active slot is a
// no-op that still succeeds, with AppliedRouting reporting no change.
func (s *Switcher) Switch(ctx context.Context, req Request) (*cluster.AppliedRouting, error) {
	if !req.Target.Valid() {
		return nil, fmt.Errorf("cannot switch traffic to slot %q", req.Target)
	}
	if req.Routing == nil {
		return nil, fmt.Errorf("switch requires the routing state captured by the inspector")
	}

	targetNamespace := req.Env.SlotNamespace(req.EnvName, string(req.Target))

	applied, err := s.routing.UpdateRoutingBackend(ctx, cluster.UpdateRoutingRequest{
		IngressNamespace:        req.Env.IngressNamespace,
		IngressName:             req.Env.IngressName,
		Host:                    req.Env.Host,
		BackendService:          targetNamespace,
		ExpectedResourceVersion: req.Routing.ResourceVersion,
		Annotations: map[string]string{
			AnnotationActiveSlot:  string(req.Target),
			AnnotationSwitchedAt:  time.Now().UTC().Format(time.RFC3339),
			AnnotationStrategy:    string(req.Env.Strategy),
			AnnotationTarget:      targetNamespace,
			AnnotationTriggeredBy: req.TriggeredBy,
			AnnotationRunID:       req.RunID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("traffic switch to %s failed: %w", req.Target, err)
	}

	if applied.Changed {
		s.log.Info().
			Str("environment", req.EnvName).
			Str("slot", string(req.Target)).
			Str("namespace", targetNamespace).
			Msg("traffic switched")
	} else {
		s.log.Info().
			Str("environment", req.EnvName).
			Str("slot", string(req.Target)).
			Msg("traffic already on target slot")
	}
	return applied, nil
}
