package gitref

import "fmt"

// EventKind is how the deployment action was triggered.
type EventKind string

const (
	// EventPush is an automatic trigger from a pushed ref.
	EventPush EventKind = "push"
	// EventManual is an operator-triggered invocation.
	EventManual EventKind = "manual"
)

// PermissionDecision is the outcome of resolving a ref against an
// environment's rule. Reason is always set, including for allowed
// decisions, so CI logs show why an action went through.
type PermissionDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Request carries everything Resolve needs. Callers log and persist
// decision metadata themselves; Resolve has no side effects.
type Request struct {
	Ref         string
	Event       EventKind
	Override    bool // explicit bypass, consulted only for manual events
	Environment string
	Pattern     RefPattern
}

// Resolve evaluates the permission decision table:
//
//	event   match   override   decision
//	push    yes     -          allowed
//	push    no      -          rejected (override is ignored for push)
//	manual  yes     -          allowed (override not required)
//	manual  no      true       allowed (explicit bypass)
//	manual  no      false      rejected
//
// The override flag is deliberately a no-op for matching manual refs
// and for push events; it only widens manual invocations on refs that
// would otherwise be rejected.
func Resolve(req Request) PermissionDecision {
	matched := req.Pattern.Matches(req.Ref)

	switch req.Event {
	case EventPush:
		if matched {
			return PermissionDecision{
				Allowed: true,
				Reason:  fmt.Sprintf("ref %s matches %s for %s", req.Ref, req.Pattern, req.Environment),
			}
		}
		return PermissionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("ref %s does not match required pattern for %s (expected %s)", req.Ref, req.Environment, req.Pattern),
		}

	case EventManual:
		if matched {
			return PermissionDecision{
				Allowed: true,
				Reason:  fmt.Sprintf("ref %s matches %s for %s", req.Ref, req.Pattern, req.Environment),
			}
		}
		if req.Override {
			return PermissionDecision{
				Allowed: true,
				Reason:  fmt.Sprintf("ref %s does not match %s for %s, allowed by explicit override", req.Ref, req.Pattern, req.Environment),
			}
		}
		return PermissionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("ref %s does not match required pattern for %s (expected %s); pass an explicit override to bypass", req.Ref, req.Environment, req.Pattern),
		}
	}

	return PermissionDecision{
		Allowed: false,
		Reason:  fmt.Sprintf("unknown event kind %q", req.Event),
	}
}
