package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Fetch fetches every branch of the specified remote into its
// remote-tracking refs. When prune is true, tracking refs for branches that
// no longer exist on the remote are removed.
// Returns ErrAlreadyUpToDate if there are no changes to fetch.
//
// Context timeout/cancellation is honored during the fetch operation.
func (r *Repo) Fetch(ctx context.Context, remote string, prune bool) error {
	if remote == "" {
		remote = DefaultRemoteName
	}

	auth, err := r.authFor(remote)
	if err != nil {
		return err
	}

	fetchOpts := &gogit.FetchOptions{
		RemoteName: remote,
		RefSpecs: []config.RefSpec{
			config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remote)),
		},
		Prune: prune,
		Force: true,
		Auth:  auth,
	}

	err = r.repo.FetchContext(ctx, fetchOpts)
	if err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			return WrapError(ErrResolveFailed, "remote not found")
		}
		if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return ErrAlreadyUpToDate
		}
		if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
			return WrapError(ErrAuthRequired, err.Error())
		}
		return WrapError(err, "failed to fetch from remote")
	}

	return nil
}

// PushBranch pushes the local branch to remoteBranch on the remote. When
// force is true the remote branch is overwritten regardless of history.
// Returns ErrAlreadyUpToDate if the remote already points at the same commit.
//
// Context timeout/cancellation is honored during the push operation.
func (r *Repo) PushBranch(ctx context.Context, remote, branch, remoteBranch string, force bool) error {
	if remote == "" {
		remote = DefaultRemoteName
	}
	if branch == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}
	if remoteBranch == "" {
		remoteBranch = branch
	}

	auth, err := r.authFor(remote)
	if err != nil {
		return err
	}

	spec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, remoteBranch)
	if force {
		spec = "+" + spec
	}

	refSpec := config.RefSpec(spec)
	if err := refSpec.Validate(); err != nil {
		return WrapErrorf(ErrInvalidRef, "invalid refspec %q", spec)
	}

	pushOpts := &gogit.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{refSpec},
		Force:      force,
		Auth:       auth,
	}

	err = r.repo.PushContext(ctx, pushOpts)
	if err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			return WrapError(ErrResolveFailed, "remote not found")
		}
		if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return ErrAlreadyUpToDate
		}
		if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
			return WrapError(ErrAuthRequired, err.Error())
		}
		return WrapError(err, "failed to push to remote")
	}

	return nil
}

//nolint:ireturn // go-git requires the transport.AuthMethod interface
func (r *Repo) authFor(remote string) (transport.AuthMethod, error) {
	if r.options.Auth == nil {
		return nil, nil
	}

	remoteURL, err := r.RemoteURL(remote)
	if err != nil {
		return nil, err
	}

	authMethod, err := r.options.Auth.Method(remoteURL)
	if err != nil {
		return nil, WrapError(ErrAuthRequired, "failed to get authentication method")
	}
	return authMethod, nil
}
