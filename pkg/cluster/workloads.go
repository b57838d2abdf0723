package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PodSummary aggregates the pod-level readiness of one namespace's
// application pods.
type PodSummary struct {
	Total         int
	Running       int
	Ready         int
	FirstReadyPod string
}

// NamespaceExists reports whether the namespace exists.
func (c *Client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.read(ctx, "get-namespace", func() error {
		_, err := c.kube.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check namespace %s: %w", name, err)
	}
	return exists, nil
}

// PodSummary lists the application's pods in the namespace by the
// app=<name> label and counts running and ready pods.
func (c *Client) PodSummary(ctx context.Context, namespace, app string) (PodSummary, error) {
	var pods *corev1.PodList
	err := c.read(ctx, "list-pods", func() error {
		var err error
		pods, err = c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("app=%s", app),
		})
		return err
	})
	if err != nil {
		return PodSummary{}, fmt.Errorf("failed to list pods in %s: %w", namespace, err)
	}

	summary := PodSummary{Total: len(pods.Items)}
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		summary.Running++
		if isPodReady(&pod) {
			summary.Ready++
			if summary.FirstReadyPod == "" {
				summary.FirstReadyPod = pod.Name
			}
		}
	}
	return summary, nil
}

// DeploymentReplicas returns ready vs desired replica counts for the
// application's deployment in the namespace.
func (c *Client) DeploymentReplicas(ctx context.Context, namespace, app string) (ready, desired int32, err error) {
	err = c.read(ctx, "get-deployment", func() error {
		dep, err := c.kube.AppsV1().Deployments(namespace).Get(ctx, app, metav1.GetOptions{})
		if err != nil {
			return err
		}
		desired = 1
		if dep.Spec.Replicas != nil {
			desired = *dep.Spec.Replicas
		}
		ready = dep.Status.ReadyReplicas
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, app, err)
	}
	return ready, desired, nil
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}
