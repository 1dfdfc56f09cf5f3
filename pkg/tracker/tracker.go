// Package tracker talks to the external issue tracker's REST API.
package tracker

import "context"

// CreateRequest describes a new issue to file.
type CreateRequest struct {
	Summary     string
	Description string
	Priority    string
	Labels      []string
	Component   string
}

// Client is the boundary to the external tracker: search for an open
// issue referencing a fingerprint, create a new issue, or append a
// comment to an existing one.
type Client interface {
	// SearchOpenIssue returns the key of an open issue whose content
	// references the fingerprint, scoped to the configured project and
	// excluding resolved/closed issues. found is false when none match.
	SearchOpenIssue(ctx context.Context, fingerprint string) (key string, found bool, err error)

	// CreateIssue files a new issue and returns its key.
	CreateIssue(ctx context.Context, req *CreateRequest) (string, error)

	// AddComment appends a comment to an existing issue. Reposting the
	// same occurrence for a repeat failure is accepted behavior.
	AddComment(ctx context.Context, issueKey, body string) error
}
