// Package health verifies that a deployment target is actually serving
// after a traffic switch, with bounded probing and an explicit
// distinction between observed failure and inconclusive timeout.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kubeslot/kubeslot/pkg/cluster"
	"github.com/kubeslot/kubeslot/pkg/logging"
)

// Verdict is the terminal outcome of a verification run.
type Verdict string

const (
	// VerdictHealthy: replica counts matched and the application
	// reported UP.
	VerdictHealthy Verdict = "healthy"
	// VerdictUnhealthy: the application explicitly reported a
	// non-UP status after its replicas were ready. Ready but broken.
	VerdictUnhealthy Verdict = "unhealthy"
	// VerdictIndeterminate: attempts were exhausted without reaching
	// either terminal state. Could be a timeout artifact; the operator
	// should investigate rather than assume failure.
	VerdictIndeterminate Verdict = "indeterminate"
)

// Target identifies the workload being verified.
type Target struct {
	Namespace string
	App       string
	Port      int
	Path      string
}

// Result carries the verdict with the last observed replica counts and
// probe outcome.
type Result struct {
	Verdict    Verdict
	Attempts   int
	Ready      int32
	Desired    int32
	LastStatus string // last application-reported status, if any
	LastErr    error  // last probe or replica-read error, if any
}

// WorkloadProber reads replica state and probes the application health
// endpoint. Satisfied by *cluster.Client.
type WorkloadProber interface {
	DeploymentReplicas(ctx context.Context, namespace, app string) (ready, desired int32, err error)
	PodSummary(ctx context.Context, namespace, app string) (cluster.PodSummary, error)
	ProbeApplicationHealth(ctx context.Context, namespace, pod string, port int, path string) (string, error)
}

// Clock abstracts time for the retry loop so tests can verify the
// bounded-wait property without sleeping.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Verifier polls a deployment target's readiness and application
// health with bounded retries.
type Verifier struct {
	prober WorkloadProber
	clock  Clock
	log    zerolog.Logger
}

// NewVerifier creates a verifier using the real clock.
func NewVerifier(prober WorkloadProber) *Verifier {
	return &Verifier{
		prober: prober,
		clock:  realClock{},
		log:    logging.WithComponent("health"),
	}
}

// WithClock replaces the clock. For tests.
func (v *Verifier) WithClock(clock Clock) *Verifier {
	v.clock = clock
	return v
}

// Verify runs up to maxAttempts probe rounds, sleeping interval
// between rounds, so total wall-clock time is bounded by
// maxAttempts*interval plus probe latency.
//
// Each round compares ready vs desired replicas; once they match (and
// are nonzero) one application health probe is made inside a ready
// pod. UP terminates as Healthy. An explicit non-UP status terminates
// as Unhealthy immediately without consuming the remaining attempts:
// "ready but broken" must not be mistaken for "not yet ready". If no
// terminal state is reached the verdict is Indeterminate.
func (v *Verifier) Verify(ctx context.Context, target Target, maxAttempts int, interval time.Duration) Result {
	result := Result{Verdict: VerdictIndeterminate}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		done := v.probeOnce(ctx, target, &result)
		if done {
			return result
		}

		v.log.Debug().
			Str("namespace", target.Namespace).
			Str("app", target.App).
			Int("attempt", attempt).
			Int32("ready", result.Ready).
			Int32("desired", result.Desired).
			Msg("target not healthy yet")

		if attempt < maxAttempts {
			if err := v.clock.Sleep(ctx, interval); err != nil {
				result.LastErr = err
				return result
			}
		}
	}

	return result
}

// probeOnce performs one verification round. It returns true when a
// terminal verdict was reached.
func (v *Verifier) probeOnce(ctx context.Context, target Target, result *Result) bool {
	ready, desired, err := v.prober.DeploymentReplicas(ctx, target.Namespace, target.App)
	if err != nil {
		result.LastErr = err
		return false
	}
	result.Ready = ready
	result.Desired = desired

	if desired == 0 || ready != desired {
		return false
	}

	pods, err := v.prober.PodSummary(ctx, target.Namespace, target.App)
	if err != nil {
		result.LastErr = err
		return false
	}
	if pods.FirstReadyPod == "" {
		return false
	}

	status, err := v.prober.ProbeApplicationHealth(ctx, target.Namespace, pods.FirstReadyPod, target.Port, target.Path)
	if err != nil {
		// A transport failure is not an explicit DOWN; keep probing.
		result.LastErr = err
		return false
	}

	result.LastStatus = status
	if status == cluster.HealthStatusUp {
		result.Verdict = VerdictHealthy
		return true
	}

	// The application answered and said it is not up. Fast-fail.
	result.Verdict = VerdictUnhealthy
	return true
}
