// Package gitref decides whether a git ref is allowed to act on a
// deployment environment. Ref rules are explicit tagged variants rather
// than shell-style glob tests, and the permission logic is a single
// decision table so that no rule can shadow another.
package gitref

import (
	"fmt"
	"strings"

	"github.com/kubeslot/kubeslot/pkg/config"
)

const (
	branchRefPrefix = "refs/heads/"
	tagRefPrefix    = "refs/tags/"
)

// PatternKind discriminates the supported ref rule variants.
type PatternKind string

const (
	KindExactBranch  PatternKind = "exact-branch"
	KindBranchPrefix PatternKind = "branch-prefix"
	KindTagAny       PatternKind = "tag-any"
)

// RefPattern is one rule binding an environment to the refs that may
// deploy it.
type RefPattern struct {
	Kind  PatternKind
	Value string // branch name or branch prefix; empty for tag-any
}

// ExactBranch matches exactly one branch.
func ExactBranch(name string) RefPattern {
	return RefPattern{Kind: KindExactBranch, Value: name}
}

// BranchPrefix matches any branch under the given prefix (e.g. "release/").
func BranchPrefix(prefix string) RefPattern {
	return RefPattern{Kind: KindBranchPrefix, Value: prefix}
}

// TagAny matches any tag ref.
func TagAny() RefPattern {
	return RefPattern{Kind: KindTagAny}
}

// FromRule converts a configuration ref rule into a RefPattern.
func FromRule(rule config.RefRuleConfig) (RefPattern, error) {
	switch {
	case rule.Branch != "":
		return ExactBranch(rule.Branch), nil
	case rule.BranchPrefix != "":
		return BranchPrefix(rule.BranchPrefix), nil
	case rule.TagAny:
		return TagAny(), nil
	}
	return RefPattern{}, fmt.Errorf("ref rule has no variant set")
}

// Matches reports whether the fully qualified ref (refs/heads/... or
// refs/tags/...) satisfies the pattern. Short ref forms are also
// accepted for branches so that operators can pass plain branch names.
func (p RefPattern) Matches(ref string) bool {
	switch p.Kind {
	case KindExactBranch:
		branch, ok := branchName(ref)
		return ok && branch == p.Value
	case KindBranchPrefix:
		branch, ok := branchName(ref)
		return ok && strings.HasPrefix(branch, p.Value)
	case KindTagAny:
		return strings.HasPrefix(ref, tagRefPrefix)
	}
	return false
}

// String describes the pattern for user-facing rejection reasons.
func (p RefPattern) String() string {
	switch p.Kind {
	case KindExactBranch:
		return fmt.Sprintf("branch %q", p.Value)
	case KindBranchPrefix:
		return fmt.Sprintf("branches matching %q", p.Value+"*")
	case KindTagAny:
		return "any tag"
	}
	return "unknown pattern"
}

// branchName extracts the branch name from a ref. Tag refs return
// ok=false; a ref without a refs/ prefix is treated as a bare branch
// name.
func branchName(ref string) (string, bool) {
	if strings.HasPrefix(ref, branchRefPrefix) {
		return strings.TrimPrefix(ref, branchRefPrefix), true
	}
	if strings.HasPrefix(ref, "refs/") {
		return "", false
	}
	return ref, ref != ""
}
