package git

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// AuthProvider resolves authentication methods for git operations.
type AuthProvider interface {
	// Method returns the appropriate transport.AuthMethod for the given remote URL.
	// Returns nil if no authentication is needed/available for this URL.
	// Returns an error if authentication cannot be resolved for the URL.
	Method(remoteURL string) (transport.AuthMethod, error)
}

// BasicAuthProvider supplies username/password credentials to HTTP(S) remotes.
// Other transports (local paths, file://, ssh://) get no auth method.
type BasicAuthProvider struct {
	auth *http.BasicAuth

	// AllowedHosts restricts authentication to specific host patterns.
	// If empty, credentials are sent to every HTTP(S) host.
	// Supports "*.example.com" and "example.*" patterns.
	AllowedHosts []string
}

// NewBasicAuthProvider creates a provider from a username and password.
// A token passed without a username is sent as the username, which most
// hosting providers accept.
func NewBasicAuthProvider(username, password string) *BasicAuthProvider {
	if username == "" && password != "" {
		username = password
		password = ""
	}

	return &BasicAuthProvider{
		auth: &http.BasicAuth{
			Username: username,
			Password: password,
		},
	}
}

// WithAllowedHosts sets the allowed hosts for this provider.
func (p *BasicAuthProvider) WithAllowedHosts(hosts ...string) *BasicAuthProvider {
	p.AllowedHosts = hosts
	return p
}

// Method implements AuthProvider.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *BasicAuthProvider) Method(remoteURL string) (transport.AuthMethod, error) {
	if p == nil || p.auth == nil || p.auth.Username == "" {
		return nil, nil
	}

	if !strings.Contains(remoteURL, "://") {
		// scp-like ssh address or a local path
		return nil, nil
	}

	parsedURL, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return nil, nil
	}

	if len(p.AllowedHosts) > 0 && !p.isHostAllowed(parsedURL.Hostname()) {
		return nil, nil
	}

	return p.auth, nil
}

func (p *BasicAuthProvider) isHostAllowed(host string) bool {
	for _, pattern := range p.AllowedHosts {
		if matchesHostPattern(host, pattern) {
			return true
		}
	}
	return false
}

func matchesHostPattern(host, pattern string) bool {
	if host == pattern {
		return true
	}

	if strings.Count(pattern, "*") != 1 {
		return false
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := strings.TrimPrefix(pattern, "*.")
		return strings.HasSuffix(host, "."+suffix) || host == suffix
	}

	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(host, prefix+".")
	}

	return false
}
