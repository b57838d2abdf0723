// Package cluster wraps the Kubernetes API surface kubeslot needs:
// ingress routing state, pod and deployment readiness, application
// health probes through the pod proxy, and ReplicaSet revision history.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kubeslot/kubeslot/pkg/config"
	"github.com/kubeslot/kubeslot/pkg/logging"
	"github.com/kubeslot/kubeslot/pkg/resilience"
)

// Client talks to one cluster. All reads go through the shared cluster
// circuit breaker with bounded retry; writes go through the breaker
// only, so a failed routing update is never silently repeated.
type Client struct {
	kube    kubernetes.Interface
	breaker *resilience.ServiceBreaker
	log     zerolog.Logger
}

// NewClient builds a client for the given cluster reference. In-cluster
// service account configuration is tried first, then kubeconfig
// resolution with the configured path and context.
func NewClient(cfg config.ClusterConfig) (*Client, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if cfg.Kubeconfig != "" {
			loadingRules.ExplicitPath = cfg.Kubeconfig
		}
		overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	return NewFromClientset(clientset), nil
}

// NewFromClientset wraps an existing clientset. Used by tests with the
// client-go fake.
func NewFromClientset(kube kubernetes.Interface) *Client {
	return &Client{
		kube:    kube,
		breaker: resilience.GetClusterBreaker(),
		log:     logging.WithComponent("cluster"),
	}
}

// read runs a read operation through the breaker with bounded retry on
// transient API failures.
func (c *Client) read(ctx context.Context, op string, fn func() error) error {
	return c.breaker.Execute(func() error {
		return resilience.Retry(ctx, fn, resilience.WithOnRetry(func(err error, d time.Duration) {
			c.log.Debug().Str("operation", op).Err(err).Msgf("retrying in %s", d)
		}))
	})
}

// write runs a mutating operation through the breaker without retry.
func (c *Client) write(fn func() error) error {
	return c.breaker.Execute(fn)
}
