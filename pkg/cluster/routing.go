package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ErrRoutingConflict is returned when the routing resource changed
// between inspection and update. The caller must re-run the pipeline so
// the inspector re-reads live state.
var ErrRoutingConflict = errors.New("routing resource changed since it was inspected")

// ErrHostNotRouted is returned when the ingress has no rule for the
// environment's public host.
var ErrHostNotRouted = errors.New("ingress has no rule for host")

// RoutingState is the live mapping from a public host to its backend
// service. The backend service name encodes the active slot namespace
// under the {env}-{app}-{slot} convention. ResourceVersion is captured
// for the optimistic-concurrency check on update.
type RoutingState struct {
	IngressNamespace string
	IngressName      string
	Host             string
	BackendService   string
	BackendPort      int32
	ResourceVersion  string
	Annotations      map[string]string
}

// AppliedRouting is the result of a routing update.
type AppliedRouting struct {
	Host           string
	BackendService string
	BackendPort    int32
	Changed        bool
	SwitchedAt     time.Time
}

// UpdateRoutingRequest describes a backend swap. When
// ExpectedResourceVersion is set the update is a compare-and-swap: the
// API server rejects it if the ingress moved on since inspection.
type UpdateRoutingRequest struct {
	IngressNamespace        string
	IngressName             string
	Host                    string
	BackendService          string
	ExpectedResourceVersion string
	Annotations             map[string]string
}

// RoutingState reads the current backend for the given host from the
// ingress. Every decision re-reads this live state; nothing is cached.
func (c *Client) RoutingState(ctx context.Context, ingressNamespace, ingressName, host string) (*RoutingState, error) {
	var ing *networkingv1.Ingress
	err := c.read(ctx, "get-ingress", func() error {
		var err error
		ing, err = c.kube.NetworkingV1().Ingresses(ingressNamespace).Get(ctx, ingressName, metav1.GetOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get ingress %s/%s: %w", ingressNamespace, ingressName, err)
	}

	backend := backendForHost(ing, host)
	if backend == nil {
		return nil, fmt.Errorf("%w %s in ingress %s/%s", ErrHostNotRouted, host, ingressNamespace, ingressName)
	}

	state := &RoutingState{
		IngressNamespace: ingressNamespace,
		IngressName:      ingressName,
		Host:             host,
		BackendService:   backend.Service.Name,
		ResourceVersion:  ing.ResourceVersion,
		Annotations:      ing.Annotations,
	}
	if backend.Service.Port.Number != 0 {
		state.BackendPort = backend.Service.Port.Number
	}
	return state, nil
}

// UpdateRoutingBackend points the host's backend at the requested
// service in a single API call, writing the audit annotations in the
// same update. Pointing at the already-configured backend is a no-op
// that succeeds without touching the resource.
func (c *Client) UpdateRoutingBackend(ctx context.Context, req UpdateRoutingRequest) (*AppliedRouting, error) {
	ing, err := c.kube.NetworkingV1().Ingresses(req.IngressNamespace).Get(ctx, req.IngressName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ingress %s/%s: %w", req.IngressNamespace, req.IngressName, err)
	}

	if req.ExpectedResourceVersion != "" && ing.ResourceVersion != req.ExpectedResourceVersion {
		return nil, fmt.Errorf("%w: ingress %s/%s is at version %s, inspected at %s",
			ErrRoutingConflict, req.IngressNamespace, req.IngressName, ing.ResourceVersion, req.ExpectedResourceVersion)
	}

	backend := backendForHost(ing, req.Host)
	if backend == nil {
		return nil, fmt.Errorf("%w %s in ingress %s/%s", ErrHostNotRouted, req.Host, req.IngressNamespace, req.IngressName)
	}

	applied := &AppliedRouting{
		Host:           req.Host,
		BackendService: req.BackendService,
		BackendPort:    backend.Service.Port.Number,
		SwitchedAt:     time.Now().UTC(),
	}

	if backend.Service.Name == req.BackendService {
		applied.Changed = false
		c.log.Debug().
			Str("host", req.Host).
			Str("backend", req.BackendService).
			Msg("routing already points at requested backend")
		return applied, nil
	}

	setBackendForHost(ing, req.Host, req.BackendService)
	if ing.Annotations == nil {
		ing.Annotations = make(map[string]string)
	}
	for k, v := range req.Annotations {
		ing.Annotations[k] = v
	}

	err = c.write(func() error {
		_, err := c.kube.NetworkingV1().Ingresses(req.IngressNamespace).Update(ctx, ing, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update ingress %s/%s backend: %w", req.IngressNamespace, req.IngressName, err)
	}

	applied.Changed = true
	c.log.Info().
		Str("host", req.Host).
		Str("backend", req.BackendService).
		Msg("routing backend updated")
	return applied, nil
}

// backendForHost finds the first http path backend for the host rule.
func backendForHost(ing *networkingv1.Ingress, host string) *networkingv1.IngressBackend {
	for i := range ing.Spec.Rules {
		rule := &ing.Spec.Rules[i]
		if rule.Host != host || rule.HTTP == nil || len(rule.HTTP.Paths) == 0 {
			continue
		}
		return &rule.HTTP.Paths[0].Backend
	}
	return nil
}

// setBackendForHost rewrites every path backend under the host rule so
// the whole host moves together.
func setBackendForHost(ing *networkingv1.Ingress, host, service string) {
	for i := range ing.Spec.Rules {
		rule := &ing.Spec.Rules[i]
		if rule.Host != host || rule.HTTP == nil {
			continue
		}
		for j := range rule.HTTP.Paths {
			rule.HTTP.Paths[j].Backend.Service.Name = service
		}
	}
}
