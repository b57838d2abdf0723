package pipeline

import "fmt"

// FailureKind classifies pipeline failures. Every kind maps to a
// different operator action, so rejections are never collapsed into a
// generic failure.
type FailureKind string

const (
	// FailurePermissionDenied: the ref gate rejected the action.
	// Recoverable by adjusting the ref or setting the override.
	FailurePermissionDenied FailureKind = "permission-denied"
	// FailureAmbiguousState: the active slot could not be determined.
	// Blocks everything before any mutation; requires manual cluster
	// inspection.
	FailureAmbiguousState FailureKind = "ambiguous-state"
	// FailurePreconditionFailed: the rollback target failed
	// validation. Fix the target environment first.
	FailurePreconditionFailed FailureKind = "precondition-failed"
	// FailureSwitchFailed: the routing update failed. Re-running the
	// pipeline is safe; state is re-read.
	FailureSwitchFailed FailureKind = "switch-failed"
	// FailureHealthRejected: the switched-to slot explicitly reported
	// itself broken. Consider switching back.
	FailureHealthRejected FailureKind = "health-rejected"
	// FailureHealthTimeout: health probing was inconclusive. Observe
	// longer before assuming the rollback failed.
	FailureHealthTimeout FailureKind = "health-timeout"
)

// Failure is a pipeline error carrying the failed step's specific
// reason and a description of the state the cluster is left in.
type Failure struct {
	Kind         FailureKind
	Reason       string
	Cause        error
	ClusterState string // what the cluster looks like after the failure
}

// Error implements the error interface
func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Reason)
	if f.Cause != nil {
		msg += fmt.Sprintf(": %v", f.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (f *Failure) Unwrap() error {
	return f.Cause
}

// Explain returns the multi-line operator-facing explanation.
func (f *Failure) Explain() string {
	msg := fmt.Sprintf("%s\nReason: %s", headline(f.Kind), f.Reason)
	if f.Cause != nil {
		msg += fmt.Sprintf("\nCause: %v", f.Cause)
	}
	if f.ClusterState != "" {
		msg += fmt.Sprintf("\nCluster state: %s", f.ClusterState)
	}
	return msg
}

func headline(kind FailureKind) string {
	switch kind {
	case FailurePermissionDenied:
		return "Action not permitted for this ref"
	case FailureAmbiguousState:
		return "Cannot determine which slot is active"
	case FailurePreconditionFailed:
		return "Rollback target failed validation"
	case FailureSwitchFailed:
		return "Traffic switch failed"
	case FailureHealthRejected:
		return "Health check reported the target broken"
	case FailureHealthTimeout:
		return "Health check was inconclusive"
	}
	return string(kind)
}
