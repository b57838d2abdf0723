package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func testReplicaSet(namespace, name, app, revision, image string, replicas, ready int32) *appsv1.ReplicaSet {
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         namespace,
			Labels:            map[string]string{"app": app},
			Annotations:       map[string]string{"deployment.kubernetes.io/revision": revision},
			CreationTimestamp: metav1.NewTime(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
		},
		Spec: appsv1.ReplicaSetSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"app": app, "pod-template-hash": name},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: app, Image: image}},
				},
			},
		},
		Status: appsv1.ReplicaSetStatus{Replicas: replicas, ReadyReplicas: ready},
	}
}

func TestListRevisions(t *testing.T) {
	client := newTestClient(
		testReplicaSet("ns", "checkout-a1", "checkout", "1", "checkout:1.0", 0, 0),
		testReplicaSet("ns", "checkout-b2", "checkout", "2", "checkout:1.1", 3, 3),
		testReplicaSet("ns", "checkout-c3", "checkout", "3", "checkout:1.2", 3, 1),
	)

	revisions, err := client.ListRevisions(context.Background(), "ns", "checkout")
	require.NoError(t, err)
	require.Len(t, revisions, 3)

	// Newest first.
	assert.Equal(t, int64(3), revisions[0].Number)
	assert.Equal(t, int64(2), revisions[1].Number)
	assert.Equal(t, int64(1), revisions[2].Number)

	// Stable means all replicas ready and at least one of them.
	assert.False(t, revisions[0].Stable, "partially ready revision is not stable")
	assert.True(t, revisions[1].Stable)
	assert.False(t, revisions[2].Stable, "scaled-down revision is not stable")

	assert.Equal(t, "checkout:1.1", revisions[1].Image)
}

func TestListRevisionsSkipsUnannotated(t *testing.T) {
	rs := testReplicaSet("ns", "checkout-x", "checkout", "1", "checkout:1.0", 1, 1)
	rs.Annotations = nil

	client := newTestClient(rs)
	revisions, err := client.ListRevisions(context.Background(), "ns", "checkout")
	require.NoError(t, err)
	assert.Empty(t, revisions)
}

func TestCurrentRevision(t *testing.T) {
	client := newTestClient(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "checkout",
			Namespace:   "ns",
			Annotations: map[string]string{"deployment.kubernetes.io/revision": "7"},
		},
	})

	current, err := client.CurrentRevision(context.Background(), "ns", "checkout")
	require.NoError(t, err)
	assert.Equal(t, int64(7), current)
}

func TestRollbackToRevision(t *testing.T) {
	target := testReplicaSet("ns", "checkout-old", "checkout", "2", "checkout:1.1", 0, 0)
	clientset := fake.NewSimpleClientset(
		target,
		testReplicaSet("ns", "checkout-new", "checkout", "3", "checkout:1.2", 3, 3),
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{
				Name:        "checkout",
				Namespace:   "ns",
				Annotations: map[string]string{"deployment.kubernetes.io/revision": "3"},
			},
			Spec: appsv1.DeploymentSpec{
				Template: corev1.PodTemplateSpec{
					Spec: corev1.PodSpec{
						Containers: []corev1.Container{{Name: "checkout", Image: "checkout:1.2"}},
					},
				},
			},
		},
	)
	client := NewFromClientset(clientset)
	ctx := context.Background()

	err := client.RollbackToRevision(ctx, "ns", "checkout", 2)
	require.NoError(t, err)

	dep, err := clientset.AppsV1().Deployments("ns").Get(ctx, "checkout", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "checkout:1.1", dep.Spec.Template.Spec.Containers[0].Image)
	assert.NotContains(t, dep.Spec.Template.Labels, "pod-template-hash",
		"controller-managed label must not be copied back")
}

func TestRollbackToRevisionNotFound(t *testing.T) {
	client := newTestClient(
		testReplicaSet("ns", "checkout-new", "checkout", "3", "checkout:1.2", 3, 3),
	)

	err := client.RollbackToRevision(context.Background(), "ns", "checkout", 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revision 9 not found")
}
