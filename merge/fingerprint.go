// Package merge turns a set of branch names into a content-addressed
// integration branch. The branch name is derived from the resolved commit
// set, so an unchanged set maps to the same branch and the merge can be
// skipped.
package merge

import (
	"context"
	"crypto/sha1" //nolint:gosec // content address, not a security boundary
	"encoding/hex"
	"slices"
	"sort"
	"strings"

	"github.com/input-output-hk/brencher/errors"
)

const (
	// IntegrationPrefix prefixes integration branch names.
	IntegrationPrefix = "auto/"

	// EphemeralPrefix prefixes the local branch a merge is staged on.
	EphemeralPrefix = "temp-merge-"
)

// BranchResolver resolves a branch name to its current commit id.
type BranchResolver interface {
	Resolve(ctx context.Context, branch string) (string, error)
}

// Plan is a resolved branch set ready to be merged.
type Plan struct {
	// Branches are the deduplicated branch names in merge order.
	Branches []string

	// Commits holds the commit of each entry in Branches.
	Commits []string

	Fingerprint       string
	IntegrationBranch string
	EphemeralBranch   string
}

// Fingerprint hashes the deduplicated, sorted commit ids joined by commas.
func Fingerprint(commits []string) string {
	set := slices.Clone(commits)
	sort.Strings(set)
	set = slices.Compact(set)

	sum := sha1.Sum([]byte(strings.Join(set, ","))) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// BranchName returns the integration branch name for fingerprint.
func BranchName(fingerprint string) string {
	return IntegrationPrefix + fingerprint
}

// EphemeralName returns the staging branch name for fingerprint.
func EphemeralName(fingerprint string) string {
	return EphemeralPrefix + fingerprint
}

// Resolve resolves every branch through resolver and derives the plan.
// It fails on the first branch that cannot be resolved.
func Resolve(ctx context.Context, resolver BranchResolver, branches []string) (Plan, error) {
	names := slices.Clone(branches)
	sort.Strings(names)
	names = slices.Compact(names)

	if len(names) == 0 || (len(names) == 1 && names[0] == "") {
		return Plan{}, errors.New(errors.CodeInvalidInput, "no branches to merge")
	}

	commits := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			return Plan{}, errors.New(errors.CodeInvalidInput, "empty branch name")
		}
		commit, err := resolver.Resolve(ctx, name)
		if err != nil {
			return Plan{}, err
		}
		commits = append(commits, commit)
	}

	fp := Fingerprint(commits)
	return Plan{
		Branches:          names,
		Commits:           commits,
		Fingerprint:       fp,
		IntegrationBranch: BranchName(fp),
		EphemeralBranch:   EphemeralName(fp),
	}, nil
}

// CommitSet returns the distinct commits of the plan.
func (p Plan) CommitSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Commits))
	for _, c := range p.Commits {
		set[c] = struct{}{}
	}
	return set
}
