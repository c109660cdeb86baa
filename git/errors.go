package git

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Repo. Callers match them with errors.Is; the
// wrapped message carries the branch, revision or remote involved.
var (
	// ErrAlreadyUpToDate reports a fetch or push that changed nothing.
	ErrAlreadyUpToDate = errors.New("already up to date")

	// ErrAuthRequired reports a remote that rejected the request or an
	// auth provider that could not supply credentials.
	ErrAuthRequired = errors.New("authentication required")

	// ErrBranchExists reports a branch name that is already taken.
	ErrBranchExists = errors.New("branch already exists")

	// ErrBranchMissing reports a local or remote branch that does not exist.
	ErrBranchMissing = errors.New("branch does not exist")

	// ErrMergeConflict reports a merge that stopped on conflicting changes.
	// The merge is aborted before it is returned.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrInvalidRef reports a malformed branch name, refspec or commit hash.
	ErrInvalidRef = errors.New("invalid reference")

	// ErrResolveFailed reports a revision that does not name a commit.
	ErrResolveFailed = errors.New("cannot resolve revision")
)

// WrapError prefixes err with msg, keeping it matchable with errors.Is.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf is WrapError with a format string.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
