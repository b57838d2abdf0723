package slot

import (
	"context"
	"fmt"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
)

// RoutingReader reads live routing state. Satisfied by *cluster.Client.
type RoutingReader interface {
	RoutingState(ctx context.Context, ingressNamespace, ingressName, host string) (*cluster.RoutingState, error)
}

// Inspector determines which slot currently serves traffic. It always
// re-reads the routing resource so decisions never act on stale state.
type Inspector struct {
	routing RoutingReader
}

// NewInspector creates an inspector backed by the given routing reader.
func NewInspector(routing RoutingReader) *Inspector {
	return &Inspector{routing: routing}
}

// CurrentActiveSlot reads the ingress backend for the environment's
// public host and maps it onto a slot. It returns Unknown (with the
// routing state for diagnostics) when the backend matches neither
// slot's naming convention. Calling this for a rolling environment is
// a caller bug and returns an error.
func (i *Inspector) CurrentActiveSlot(ctx context.Context, envName string, env config.EnvironmentConfig) (Slot, *cluster.RoutingState, error) {
	if !env.IsBlueGreen() {
		return Unknown, nil, fmt.Errorf("environment %s uses the %s strategy and has no slots", envName, env.Strategy)
	}

	state, err := i.routing.RoutingState(ctx, env.IngressNamespace, env.IngressName, env.Host)
	if err != nil {
		return Unknown, nil, err
	}

	active := FromBackendService(envName, env, state.BackendService)
	return active, state, nil
}
