package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/config"
	"github.com/kubeslot/kubeslot/pkg/gitref"
	"github.com/kubeslot/kubeslot/pkg/health"
	"github.com/kubeslot/kubeslot/pkg/notification"
	"github.com/kubeslot/kubeslot/pkg/slot"
	"github.com/kubeslot/kubeslot/pkg/traffic"
)

var blueGreenEnv = config.EnvironmentConfig{
	Strategy:         config.StrategyBlueGreen,
	App:              "checkout",
	Host:             "checkout.example.com",
	IngressName:      "public",
	IngressNamespace: "edge",
	Ref:              config.RefRuleConfig{Branch: "main"},
	HealthCheck:      config.HealthCheckConfig{Port: 8080, MaxAttempts: 3, IntervalSeconds: 1},
}

// recordingNotifier captures events in delivery order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(event notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []notification.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]notification.EventType, len(n.events))
	for i, e := range n.events {
		types[i] = e.Type
	}
	return types
}

// staticProber reports fixed replica state and a fixed probe answer.
type staticProber struct {
	ready   int32
	desired int32
	status  string
}

func (p staticProber) DeploymentReplicas(ctx context.Context, namespace, app string) (int32, int32, error) {
	return p.ready, p.desired, nil
}

func (p staticProber) PodSummary(ctx context.Context, namespace, app string) (cluster.PodSummary, error) {
	return cluster.PodSummary{Total: 1, Running: 1, Ready: 1, FirstReadyPod: "checkout-1"}, nil
}

func (p staticProber) ProbeApplicationHealth(ctx context.Context, namespace, pod string, port int, path string) (string, error) {
	return p.status, nil
}

type instantClock struct{}

func (instantClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

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

func namespaceObj(name string) *corev1.Namespace {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func readyPod(namespace, name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{"app": "checkout"},
		},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
}

// healthySlots is the standard fixture: traffic on blue, green ready
// to take it back.
func healthySlots() []runtime.Object {
	return []runtime.Object{
		ingressObj("prod-checkout-blue"),
		namespaceObj("prod-checkout-blue"),
		namespaceObj("prod-checkout-green"),
		readyPod("prod-checkout-blue", "checkout-b1"),
		readyPod("prod-checkout-green", "checkout-g1"),
	}
}

func newTestRunner(t *testing.T, prober health.WorkloadProber, objects ...runtime.Object) (*Runner, kubernetes.Interface, *recordingNotifier) {
	t.Helper()
	clientset := fake.NewSimpleClientset(objects...)
	client := cluster.NewFromClientset(clientset)
	notifier := &recordingNotifier{}

	runner := NewRunnerFromComponents("payments", "prod", blueGreenEnv, Components{
		Inspector: slot.NewInspector(client),
		Planner:   slot.NewPlanner(client, client),
		Switcher:  traffic.NewSwitcher(client),
		Verifier:  health.NewVerifier(prober).WithClock(instantClock{}),
		Reverter:  client,
		Notifier:  notifier,
		Workloads: client,
		Revisions: client,
	})
	return runner, clientset, notifier
}

func manualOpts() Options {
	return Options{
		Ref:         "refs/heads/main",
		Event:       gitref.EventManual,
		TriggeredBy: "ops@test",
	}
}

func activeBackend(t *testing.T, clientset kubernetes.Interface) string {
	t.Helper()
	ing, err := clientset.NetworkingV1().Ingresses("edge").Get(context.Background(), "public", metav1.GetOptions{})
	require.NoError(t, err)
	return ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Name
}

func TestRollbackSwitchesToInactiveSlot(t *testing.T) {
	prober := staticProber{ready: 2, desired: 2, status: cluster.HealthStatusUp}
	runner, clientset, notifier := newTestRunner(t, prober, healthySlots()...)

	report, err := runner.Rollback(context.Background(), manualOpts())
	require.NoError(t, err)

	assert.Equal(t, slot.Blue, report.ActiveSlot)
	assert.Equal(t, slot.Green, report.Plan.Target)
	assert.True(t, report.Plan.Approved)
	require.NotNil(t, report.Applied)
	assert.True(t, report.Applied.Changed)
	require.NotNil(t, report.Health)
	assert.Equal(t, health.VerdictHealthy, report.Health.Verdict)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, "prod-checkout-green", activeBackend(t, clientset))
	assert.Equal(t, []notification.EventType{
		notification.EventRollbackStarted,
		notification.EventTrafficSwitched,
		notification.EventRollbackSucceeded,
	}, notifier.types())
}

func TestRollbackGateDenied(t *testing.T) {
	prober := staticProber{status: cluster.HealthStatusUp}
	runner, clientset, notifier := newTestRunner(t, prober, healthySlots()...)

	_, err := runner.Rollback(context.Background(), Options{
		Ref:   "refs/heads/hotfix",
		Event: gitref.EventPush,
		// Override must be ignored for push events.
		Override: true,
	})
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailurePermissionDenied, failure.Kind)

	assert.Equal(t, "prod-checkout-blue", activeBackend(t, clientset))
	assert.Empty(t, notifier.types(), "a denied action must not notify a start")
}

func TestRollbackAmbiguousStateBlocks(t *testing.T) {
	prober := staticProber{status: cluster.HealthStatusUp}
	runner, clientset, _ := newTestRunner(t, prober,
		ingressObj("legacy-svc"),
		namespaceObj("prod-checkout-green"),
		readyPod("prod-checkout-green", "checkout-g1"),
	)

	_, err := runner.Rollback(context.Background(), manualOpts())
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureAmbiguousState, failure.Kind)
	assert.Contains(t, failure.Reason, "legacy-svc")

	assert.Equal(t, "legacy-svc", activeBackend(t, clientset))
}

func TestRollbackPreconditionFailed(t *testing.T) {
	prober := staticProber{status: cluster.HealthStatusUp}
	runner, clientset, notifier := newTestRunner(t, prober,
		ingressObj("prod-checkout-blue"),
		namespaceObj("prod-checkout-blue"),
		namespaceObj("prod-checkout-green"),
		// Green namespace exists but holds no pods.
	)

	_, err := runner.Rollback(context.Background(), manualOpts())
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailurePreconditionFailed, failure.Kind)
	assert.Contains(t, failure.Reason, "no running pods")

	assert.Equal(t, "prod-checkout-blue", activeBackend(t, clientset))
	assert.Contains(t, notifier.types(), notification.EventRollbackFailed)
}

func TestRollbackForcedPastPrecondition(t *testing.T) {
	prober := staticProber{ready: 2, desired: 2, status: cluster.HealthStatusUp}
	runner, clientset, _ := newTestRunner(t, prober,
		ingressObj("prod-checkout-blue"),
		namespaceObj("prod-checkout-blue"),
		namespaceObj("prod-checkout-green"),
	)

	opts := manualOpts()
	opts.Force = true
	report, err := runner.Rollback(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, report.Forced)
	assert.Equal(t, "prod-checkout-green", report.Plan.TargetNamespace)
	assert.Equal(t, "prod-checkout-green", activeBackend(t, clientset))
}

func TestRollbackHealthRejected(t *testing.T) {
	prober := staticProber{ready: 2, desired: 2, status: cluster.HealthStatusDown}
	runner, clientset, notifier := newTestRunner(t, prober, healthySlots()...)

	report, err := runner.Rollback(context.Background(), manualOpts())
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureHealthRejected, failure.Kind)
	assert.Contains(t, failure.ClusterState, "switched")

	// Traffic stays where the switch put it; the pipeline reports
	// instead of guessing a revert.
	assert.Equal(t, "prod-checkout-green", activeBackend(t, clientset))
	require.NotNil(t, report.Health)
	assert.Equal(t, health.VerdictUnhealthy, report.Health.Verdict)
	assert.Contains(t, notifier.types(), notification.EventHealthDegraded)
}

func TestRollbackHealthTimeout(t *testing.T) {
	// Replicas never converge, the probe never runs.
	prober := staticProber{ready: 1, desired: 2}
	runner, _, _ := newTestRunner(t, prober, healthySlots()...)

	report, err := runner.Rollback(context.Background(), manualOpts())
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureHealthTimeout, failure.Kind)
	require.NotNil(t, report.Health)
	assert.Equal(t, health.VerdictIndeterminate, report.Health.Verdict)
	assert.Equal(t, blueGreenEnv.HealthCheck.MaxAttempts, report.Health.Attempts)
}

func TestRollbackSkipHealthCheck(t *testing.T) {
	prober := staticProber{} // would be indeterminate if consulted
	runner, _, _ := newTestRunner(t, prober, healthySlots()...)

	opts := manualOpts()
	opts.SkipHealthCheck = true
	report, err := runner.Rollback(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, report.Health)
}

func TestPromoteActiveSlotIsIdempotent(t *testing.T) {
	prober := staticProber{ready: 2, desired: 2, status: cluster.HealthStatusUp}
	runner, clientset, notifier := newTestRunner(t, prober, healthySlots()...)

	report, err := runner.Promote(context.Background(), slot.Blue, manualOpts())
	require.NoError(t, err)

	require.NotNil(t, report.Applied)
	assert.False(t, report.Applied.Changed)
	assert.Equal(t, "prod-checkout-blue", activeBackend(t, clientset))
	assert.NotContains(t, notifier.types(), notification.EventTrafficSwitched,
		"a no-op promote must not announce a switch")
}

func TestPromoteMovesTraffic(t *testing.T) {
	prober := staticProber{ready: 2, desired: 2, status: cluster.HealthStatusUp}
	runner, clientset, notifier := newTestRunner(t, prober, healthySlots()...)

	report, err := runner.Promote(context.Background(), slot.Green, manualOpts())
	require.NoError(t, err)

	assert.True(t, report.Applied.Changed)
	assert.Equal(t, "prod-checkout-green", activeBackend(t, clientset))
	assert.Contains(t, notifier.types(), notification.EventTrafficSwitched)
}

func TestPromoteRollingEnvironmentRejected(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := cluster.NewFromClientset(clientset)
	runner := NewRunnerFromComponents("payments", "dev", config.EnvironmentConfig{
		Strategy:  config.StrategyRolling,
		App:       "checkout",
		Namespace: "dev-checkout",
		Ref:       config.RefRuleConfig{Branch: "dev"},
	}, Components{
		Inspector: slot.NewInspector(client),
		Planner:   slot.NewPlanner(client, client),
		Switcher:  traffic.NewSwitcher(client),
		Verifier:  health.NewVerifier(staticProber{}).WithClock(instantClock{}),
		Reverter:  client,
		Workloads: client,
		Revisions: client,
	})

	_, err := runner.Promote(context.Background(), slot.Green, manualOpts())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be promoted by slot")
}

func TestRollbackRolling(t *testing.T) {
	replicas := int32(2)
	clientset := fake.NewSimpleClientset(
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{
				Name:        "checkout",
				Namespace:   "dev-checkout",
				Annotations: map[string]string{"deployment.kubernetes.io/revision": "3"},
			},
			Spec: appsv1.DeploymentSpec{
				Replicas: &replicas,
				Template: corev1.PodTemplateSpec{
					Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "checkout", Image: "checkout:1.2"}}},
				},
			},
		},
		&appsv1.ReplicaSet{
			ObjectMeta: metav1.ObjectMeta{
				Name:        "checkout-r2",
				Namespace:   "dev-checkout",
				Labels:      map[string]string{"app": "checkout"},
				Annotations: map[string]string{"deployment.kubernetes.io/revision": "2"},
			},
			Spec: appsv1.ReplicaSetSpec{
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "checkout", "pod-template-hash": "r2"}},
					Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "checkout", Image: "checkout:1.1"}}},
				},
			},
			Status: appsv1.ReplicaSetStatus{Replicas: 2, ReadyReplicas: 2},
		},
	)
	client := cluster.NewFromClientset(clientset)
	notifier := &recordingNotifier{}

	rollingEnv := config.EnvironmentConfig{
		Strategy:    config.StrategyRolling,
		App:         "checkout",
		Namespace:   "dev-checkout",
		Ref:         config.RefRuleConfig{Branch: "dev"},
		HealthCheck: config.HealthCheckConfig{Port: 8080, MaxAttempts: 2, IntervalSeconds: 1},
	}
	runner := NewRunnerFromComponents("payments", "dev", rollingEnv, Components{
		Inspector: slot.NewInspector(client),
		Planner:   slot.NewPlanner(client, client),
		Switcher:  traffic.NewSwitcher(client),
		Verifier:  health.NewVerifier(staticProber{ready: 2, desired: 2, status: cluster.HealthStatusUp}).WithClock(instantClock{}),
		Reverter:  client,
		Notifier:  notifier,
		Workloads: client,
		Revisions: client,
	})

	report, err := runner.Rollback(context.Background(), Options{
		Ref:         "refs/heads/dev",
		Event:       gitref.EventManual,
		TriggeredBy: "ops@test",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Plan.TargetRevision)

	dep, err := clientset.AppsV1().Deployments("dev-checkout").Get(context.Background(), "checkout", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "checkout:1.1", dep.Spec.Template.Spec.Containers[0].Image)

	assert.Contains(t, notifier.types(), notification.EventRollbackSucceeded)
}
