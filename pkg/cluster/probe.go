package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kubeslot/kubeslot/pkg/resilience"
)

// Application health statuses as reported by Spring Boot actuator style
// endpoints.
const (
	HealthStatusUp   = "UP"
	HealthStatusDown = "DOWN"
)

// healthResponse is the actuator health payload shape.
type healthResponse struct {
	Status string `json:"status"`
}

// ProbeApplicationHealth performs one request to the application's
// health endpoint inside a running pod, through the API server's pod
// proxy. It returns the reported status string (UP, DOWN, ...).
//
// The probe runs through its own circuit breaker: a broken application
// endpoint must not trip the breaker guarding control-plane calls.
func (c *Client) ProbeApplicationHealth(ctx context.Context, namespace, pod string, port int, path string) (string, error) {
	breaker := resilience.GetProbeBreaker()

	body, err := resilience.ExecuteWithResult(breaker, func() ([]byte, error) {
		return c.kube.CoreV1().Pods(namespace).
			ProxyGet("http", pod, strconv.Itoa(port), path, nil).
			DoRaw(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("health probe of pod %s/%s failed: %w", namespace, pod, err)
	}

	var resp healthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("health endpoint of pod %s/%s returned unparseable body: %w", namespace, pod, err)
	}
	if resp.Status == "" {
		return "", fmt.Errorf("health endpoint of pod %s/%s returned no status field", namespace, pod)
	}
	return resp.Status, nil
}
