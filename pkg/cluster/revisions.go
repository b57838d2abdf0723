package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// revisionAnnotation is maintained by the deployment controller on
// every ReplicaSet it creates.
const revisionAnnotation = "deployment.kubernetes.io/revision"

// podTemplateHashLabel is stamped onto ReplicaSet templates by the
// deployment controller and must not be copied back.
const podTemplateHashLabel = "pod-template-hash"

// Revision is one entry of a rolling environment's deployment history.
type Revision struct {
	Number     int64
	ReplicaSet string
	Image      string
	Stable     bool // all replicas were ready when observed
	CreatedAt  time.Time
}

// ListRevisions returns the application's revision history, newest
// first, read from its ReplicaSets.
func (c *Client) ListRevisions(ctx context.Context, namespace, app string) ([]Revision, error) {
	var rsList *appsv1.ReplicaSetList
	err := c.read(ctx, "list-replicasets", func() error {
		var err error
		rsList, err = c.kube.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("app=%s", app),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list replicasets for %s in %s: %w", app, namespace, err)
	}

	var revisions []Revision
	for _, rs := range rsList.Items {
		revStr, ok := rs.Annotations[revisionAnnotation]
		if !ok {
			continue
		}
		rev, err := strconv.ParseInt(revStr, 10, 64)
		if err != nil {
			c.log.Debug().Str("replicaset", rs.Name).Str("annotation", revStr).Msg("skipping unparseable revision annotation")
			continue
		}
		r := Revision{
			Number:     rev,
			ReplicaSet: rs.Name,
			Stable:     rs.Status.Replicas == rs.Status.ReadyReplicas && rs.Status.ReadyReplicas > 0,
			CreatedAt:  rs.CreationTimestamp.Time,
		}
		if len(rs.Spec.Template.Spec.Containers) > 0 {
			r.Image = rs.Spec.Template.Spec.Containers[0].Image
		}
		revisions = append(revisions, r)
	}

	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].Number > revisions[j].Number
	})
	return revisions, nil
}

// CurrentRevision returns the deployment's current revision number.
func (c *Client) CurrentRevision(ctx context.Context, namespace, app string) (int64, error) {
	var current int64
	err := c.read(ctx, "get-deployment-revision", func() error {
		dep, err := c.kube.AppsV1().Deployments(namespace).Get(ctx, app, metav1.GetOptions{})
		if err != nil {
			return err
		}
		revStr, ok := dep.Annotations[revisionAnnotation]
		if !ok {
			current = 0
			return nil
		}
		current, err = strconv.ParseInt(revStr, 10, 64)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read current revision of %s/%s: %w", namespace, app, err)
	}
	return current, nil
}

// RollbackToRevision restores the deployment's pod template from the
// ReplicaSet that produced the given revision, the same way
// `kubectl rollout undo --to-revision` does.
func (c *Client) RollbackToRevision(ctx context.Context, namespace, app string, revision int64) error {
	revisions, err := c.ListRevisions(ctx, namespace, app)
	if err != nil {
		return err
	}

	var target *Revision
	for i := range revisions {
		if revisions[i].Number == revision {
			target = &revisions[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("revision %d not found in history of %s/%s", revision, namespace, app)
	}

	rs, err := c.kube.AppsV1().ReplicaSets(namespace).Get(ctx, target.ReplicaSet, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get replicaset %s: %w", target.ReplicaSet, err)
	}

	dep, err := c.kube.AppsV1().Deployments(namespace).Get(ctx, app, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get deployment %s/%s: %w", namespace, app, err)
	}

	template := rs.Spec.Template.DeepCopy()
	delete(template.Labels, podTemplateHashLabel)
	dep.Spec.Template = *template

	err = c.write(func() error {
		_, err := c.kube.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to roll back %s/%s to revision %d: %w", namespace, app, revision, err)
	}

	c.log.Info().
		Str("deployment", app).
		Str("namespace", namespace).
		Int64("revision", revision).
		Msg("deployment rolled back to revision")
	return nil
}
