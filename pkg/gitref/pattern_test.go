package gitref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeslot/kubeslot/pkg/config"
)

// TestRefPatternMatches tests ref matching for all pattern variants
func TestRefPatternMatches(t *testing.T) {
	tests := []struct {
		name    string
		pattern RefPattern
		ref     string
		matches bool
	}{
		{
			name:    "exact branch matches fully qualified ref",
			pattern: ExactBranch("main"),
			ref:     "refs/heads/main",
			matches: true,
		},
		{
			name:    "exact branch matches bare branch name",
			pattern: ExactBranch("main"),
			ref:     "main",
			matches: true,
		},
		{
			name:    "exact branch rejects other branch",
			pattern: ExactBranch("main"),
			ref:     "refs/heads/develop",
			matches: false,
		},
		{
			name:    "exact branch rejects tag ref",
			pattern: ExactBranch("main"),
			ref:     "refs/tags/main",
			matches: false,
		},
		{
			name:    "exact branch rejects branch with matching prefix",
			pattern: ExactBranch("main"),
			ref:     "refs/heads/main-backup",
			matches: false,
		},
		{
			name:    "branch prefix matches branch under prefix",
			pattern: BranchPrefix("release/"),
			ref:     "refs/heads/release/2.4",
			matches: true,
		},
		{
			name:    "branch prefix matches bare branch name",
			pattern: BranchPrefix("release/"),
			ref:     "release/2.4",
			matches: true,
		},
		{
			name:    "branch prefix rejects branch outside prefix",
			pattern: BranchPrefix("release/"),
			ref:     "refs/heads/feature/x",
			matches: false,
		},
		{
			name:    "branch prefix rejects tag ref with matching name",
			pattern: BranchPrefix("release/"),
			ref:     "refs/tags/release/2.4",
			matches: false,
		},
		{
			name:    "tag any matches any tag",
			pattern: TagAny(),
			ref:     "refs/tags/v1.2.3",
			matches: true,
		},
		{
			name:    "tag any rejects branches",
			pattern: TagAny(),
			ref:     "refs/heads/main",
			matches: false,
		},
		{
			name:    "tag any rejects bare names",
			pattern: TagAny(),
			ref:     "v1.2.3",
			matches: false,
		},
		{
			name:    "empty ref never matches",
			pattern: ExactBranch("main"),
			ref:     "",
			matches: false,
		},
		{
			name:    "unrecognized refs namespace never matches branches",
			pattern: ExactBranch("main"),
			ref:     "refs/remotes/origin/main",
			matches: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, tt.pattern.Matches(tt.ref))
		})
	}
}

// TestFromRule tests conversion from configuration rules
func TestFromRule(t *testing.T) {
	pattern, err := FromRule(config.RefRuleConfig{Branch: "dev"})
	require.NoError(t, err)
	assert.Equal(t, ExactBranch("dev"), pattern)

	pattern, err = FromRule(config.RefRuleConfig{BranchPrefix: "release/"})
	require.NoError(t, err)
	assert.Equal(t, BranchPrefix("release/"), pattern)

	pattern, err = FromRule(config.RefRuleConfig{TagAny: true})
	require.NoError(t, err)
	assert.Equal(t, TagAny(), pattern)

	_, err = FromRule(config.RefRuleConfig{})
	assert.Error(t, err)
}

func TestRefPatternString(t *testing.T) {
	assert.Equal(t, `branch "dev"`, ExactBranch("dev").String())
	assert.Equal(t, `branches matching "release/*"`, BranchPrefix("release/").String())
	assert.Equal(t, "any tag", TagAny().String())
}
