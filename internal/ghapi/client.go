// Package ghapi is a thin client for the parts of the GitHub REST API used to
// mirror content into a repository: the contents API for single files and
// the git database API for whole-tree rewrites.
package ghapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/cardsync/internal/utils"
	"github.com/openmined/cardsync/internal/version"
)

const (
	HeaderAPIVersion = "X-GitHub-Api-Version"
	APIVersion       = "2022-11-28"

	MediaTypeJSON   = "application/vnd.github+json"
	MediaTypeObject = "application/vnd.github.object"

	defaultTimeout          = 20 * time.Second
	defaultTreeRetries      = 10
	defaultTreeRetryBackoff = time.Second
	maxTreeRetryBackoff     = 2 * time.Minute
)

type Config struct {
	BaseURL    string
	Repository string
	Token      string
	Timeout    time.Duration
	// TreeRetries bounds retries of tree creation on 502 responses.
	TreeRetries      int
	TreeRetryBackoff time.Duration
}

// Client talks to one repository.
type Client struct {
	client   *req.Client
	Contents *ContentsAPI
	Git      *GitAPI
}

func New(cfg *Config) (*Client, error) {
	if cfg.Repository == "" {
		return nil, ErrNoRepository
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.TreeRetries
	if retries < 0 {
		retries = defaultTreeRetries
	}
	backoff := cfg.TreeRetryBackoff
	if backoff <= 0 {
		backoff = defaultTreeRetryBackoff
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/repos/"+EscapePath(cfg.Repository)).
		SetUserAgent(version.UserAgent()).
		SetTimeout(timeout).
		SetCommonHeader("Accept", MediaTypeJSON).
		SetCommonHeader(HeaderAPIVersion, APIVersion).
		SetCommonErrorResult(&APIError{}).
		SetCommonRetryCount(0).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	// dry runs may read a public repository anonymously
	if cfg.Token != "" {
		client.SetCommonBearerAuthToken(cfg.Token)
	}

	return &Client{
		client:   client,
		Contents: newContentsAPI(client),
		Git:      newGitAPI(client, retries, backoff),
	}, nil
}

// TokenHint is safe to log.
func (c *Config) TokenHint() string {
	return utils.MaskSecret(c.Token)
}

// EscapePath escapes each segment of a slash separated path.
func EscapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func isBadGateway(resp *req.Response, _ error) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == http.StatusBadGateway
}
