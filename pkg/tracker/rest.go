package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ethpandaops/triagoor/pkg/config"
)

const (
	searchPath  = "/rest/api/2/search"
	issuePath   = "/rest/api/2/issue"
	issueType   = "Bug"
	maxBodySize = 1 << 20 // 1 MiB
)

// restClient implements Client against a Jira-compatible REST API.
type restClient struct {
	log     logrus.FieldLogger
	cfg     *config.TrackerConfig
	client  *http.Client
	limiter *rate.Limiter
}

// Compile-time interface check.
var _ Client = (*restClient)(nil)

// NewClient creates a tracker REST client with a per-request timeout
// and client-side rate limiting.
func NewClient(log logrus.FieldLogger, cfg *config.TrackerConfig) Client {
	rps := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)

	return &restClient{
		log:     log.WithField("component", "tracker"),
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rps, cfg.RequestsPerMinute),
	}
}

type searchResponse struct {
	Issues []struct {
		Key string `json:"key"`
	} `json:"issues"`
}

// SearchOpenIssue queries for an unresolved issue referencing the
// fingerprint within the configured project.
func (c *restClient) SearchOpenIssue(
	ctx context.Context, fingerprint string,
) (string, bool, error) {
	jql := fmt.Sprintf(
		`project = %s AND statusCategory != Done AND text ~ %q`,
		c.cfg.ProjectKey, fingerprint,
	)

	params := url.Values{
		"jql":        {jql},
		"fields":     {"key"},
		"maxResults": {"1"},
	}

	var resp searchResponse
	if err := c.doJSON(
		ctx, http.MethodGet, searchPath+"?"+params.Encode(), nil, &resp,
	); err != nil {
		return "", false, fmt.Errorf("searching issues: %w", err)
	}

	if len(resp.Issues) == 0 {
		return "", false, nil
	}

	return resp.Issues[0].Key, true, nil
}

type keyRef struct {
	Key string `json:"key"`
}

type nameRef struct {
	Name string `json:"name"`
}

type createIssueFields struct {
	Project     keyRef    `json:"project"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	IssueType   nameRef   `json:"issuetype"`
	Priority    *nameRef  `json:"priority,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Components  []nameRef `json:"components,omitempty"`
}

type createIssueRequest struct {
	Fields createIssueFields `json:"fields"`
}

type createIssueResponse struct {
	Key string `json:"key"`
}

// CreateIssue files a new issue and returns its key.
func (c *restClient) CreateIssue(
	ctx context.Context, req *CreateRequest,
) (string, error) {
	body := createIssueRequest{
		Fields: createIssueFields{
			Project:     keyRef{Key: c.cfg.ProjectKey},
			Summary:     req.Summary,
			Description: req.Description,
			IssueType:   nameRef{Name: issueType},
			Labels:      req.Labels,
		},
	}

	if req.Priority != "" {
		body.Fields.Priority = &nameRef{Name: req.Priority}
	}

	if req.Component != "" {
		body.Fields.Components = []nameRef{{Name: req.Component}}
	}

	var resp createIssueResponse
	if err := c.doJSON(ctx, http.MethodPost, issuePath, &body, &resp); err != nil {
		return "", fmt.Errorf("creating issue: %w", err)
	}

	if resp.Key == "" {
		return "", fmt.Errorf("tracker returned an empty issue key")
	}

	return resp.Key, nil
}

type addCommentRequest struct {
	Body string `json:"body"`
}

// AddComment appends a comment to an existing issue.
func (c *restClient) AddComment(ctx context.Context, issueKey, body string) error {
	path := fmt.Sprintf("%s/%s/comment", issuePath, url.PathEscape(issueKey))

	if err := c.doJSON(
		ctx, http.MethodPost, path, &addCommentRequest{Body: body}, nil,
	); err != nil {
		return fmt.Errorf("adding comment to %s: %w", issueKey, err)
	}

	return nil
}

// doJSON performs one rate-limited, authenticated request and decodes
// the JSON response into out when out is non-nil.
func (c *restClient) doJSON(
	ctx context.Context, method, path string, in, out any,
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var reqBody io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, strings.TrimSuffix(c.cfg.BaseURL, "/")+path, reqBody,
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

		return fmt.Errorf(
			"tracker returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)),
		)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// setAuth applies basic auth when a username is configured, otherwise
// a bearer token when one is present.
func (c *restClient) setAuth(req *http.Request) {
	switch {
	case c.cfg.Username != "" && c.cfg.APIToken != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.APIToken)
	case c.cfg.APIToken != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
}
