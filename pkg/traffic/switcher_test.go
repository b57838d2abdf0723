package traffic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
	"github.com/kubeslot/kubeslot/pkg/slot"
)

var testEnv = config.EnvironmentConfig{
	Strategy:         config.StrategyBlueGreen,
	App:              "checkout",
	Host:             "checkout.example.com",
	IngressName:      "public",
	IngressNamespace: "edge",
}

func ingressObj(backend string) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix
	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:            "public",
			Namespace:       "edge",
			ResourceVersion: "42",
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: "checkout.example.com",
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: backend,
									Port: networkingv1.ServiceBackendPort{Number: 8080},
								},
							},
						}},
					},
				},
			}},
		},
	}
}

func setup(t *testing.T, backend string) (kubernetes.Interface, *cluster.Client, *Switcher) {
	t.Helper()
	clientset := fake.NewSimpleClientset(ingressObj(backend))
	client := cluster.NewFromClientset(clientset)
	return clientset, client, NewSwitcher(client)
}

func inspect(t *testing.T, client *cluster.Client) *cluster.RoutingState {
	t.Helper()
	state, err := client.RoutingState(context.Background(), "edge", "public", "checkout.example.com")
	require.NoError(t, err)
	return state
}

func TestSwitchMovesTrafficAndWritesAudit(t *testing.T) {
	clientset, client, switcher := setup(t, "prod-checkout-blue")
	ctx := context.Background()

	applied, err := switcher.Switch(ctx, Request{
		EnvName:     "prod",
		Env:         testEnv,
		Target:      slot.Green,
		Routing:     inspect(t, client),
		TriggeredBy: "ops@ci",
		RunID:       "run-1",
	})
	require.NoError(t, err)
	assert.True(t, applied.Changed)
	assert.Equal(t, "prod-checkout-green", applied.BackendService)

	ing, err := clientset.NetworkingV1().Ingresses("edge").Get(ctx, "public", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "prod-checkout-green", ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Name)
	assert.Equal(t, "green", ing.Annotations[AnnotationActiveSlot])
	assert.Equal(t, "prod-checkout-green", ing.Annotations[AnnotationTarget])
	assert.Equal(t, "ops@ci", ing.Annotations[AnnotationTriggeredBy])
	assert.Equal(t, "run-1", ing.Annotations[AnnotationRunID])
	assert.NotEmpty(t, ing.Annotations[AnnotationSwitchedAt])

	// The switch is visible to the next inspection.
	assert.Equal(t, "prod-checkout-green", inspect(t, client).BackendService)
}

// TestSwitchIdempotent: switching to the slot that already carries
// traffic succeeds without modifying the routing resource.
func TestSwitchIdempotent(t *testing.T) {
	clientset, client, switcher := setup(t, "prod-checkout-green")
	ctx := context.Background()

	applied, err := switcher.Switch(ctx, Request{
		EnvName: "prod",
		Env:     testEnv,
		Target:  slot.Green,
		Routing: inspect(t, client),
	})
	require.NoError(t, err)
	assert.False(t, applied.Changed)
	assert.Equal(t, "prod-checkout-green", applied.BackendService)

	ing, err := clientset.NetworkingV1().Ingresses("edge").Get(ctx, "public", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "42", ing.ResourceVersion, "no-op switch must not write")
}

// TestSwitchConflict: a routing resource that moved on since inspection
// is never overwritten.
func TestSwitchConflict(t *testing.T) {
	clientset, client, switcher := setup(t, "prod-checkout-blue")
	ctx := context.Background()

	stale := inspect(t, client)

	// A concurrent actor switches first; its update carries a new
	// resource version.
	ing, err := clientset.NetworkingV1().Ingresses("edge").Get(ctx, "public", metav1.GetOptions{})
	require.NoError(t, err)
	ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Name = "prod-checkout-green"
	ing.ResourceVersion = "43"
	_, err = clientset.NetworkingV1().Ingresses("edge").Update(ctx, ing, metav1.UpdateOptions{})
	require.NoError(t, err)

	// Replaying the stale state must fail, not silently re-switch.
	_, err = switcher.Switch(ctx, Request{
		EnvName: "prod",
		Env:     testEnv,
		Target:  slot.Blue,
		Routing: stale,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cluster.ErrRoutingConflict)
}

func TestSwitchRejectsInvalidTarget(t *testing.T) {
	_, client, switcher := setup(t, "prod-checkout-blue")

	_, err := switcher.Switch(context.Background(), Request{
		EnvName: "prod",
		Env:     testEnv,
		Target:  slot.Unknown,
		Routing: inspect(t, client),
	})
	assert.Error(t, err)
}

func TestSwitchRequiresRoutingState(t *testing.T) {
	_, _, switcher := setup(t, "prod-checkout-blue")

	_, err := switcher.Switch(context.Background(), Request{
		EnvName: "prod",
		Env:     testEnv,
		Target:  slot.Green,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing state")
}
