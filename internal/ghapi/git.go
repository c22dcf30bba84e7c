package ghapi

import (
	"context"
	"time"

	"github.com/imroc/req/v3"
)

const (
	v3Branches = "/branches/"
	v3Trees    = "/git/trees"
	v3Commits  = "/git/commits"
	v3Refs     = "/git/refs/"
)

// GitAPI covers branches and the git database objects.
type GitAPI struct {
	client      *req.Client
	treeRetries int
	treeBackoff time.Duration
}

func newGitAPI(client *req.Client, treeRetries int, treeBackoff time.Duration) *GitAPI {
	return &GitAPI{
		client:      client,
		treeRetries: treeRetries,
		treeBackoff: treeBackoff,
	}
}

func (g *GitAPI) GetBranch(ctx context.Context, branch string) (apiResp *Branch, err error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v3Branches + EscapePath(branch))

	if err := handleAPIError(resp, err, "get branch"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

func (g *GitAPI) GetTree(ctx context.Context, sha string, recursive bool) (apiResp *Tree, err error) {
	r := g.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp)
	if recursive {
		r.SetQueryParam("recursive", "1")
	}
	resp, err := r.Get(v3Trees + "/" + sha)

	if err := handleAPIError(resp, err, "get tree"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

// CreateTree retries on 502 with exponential backoff. Large trees regularly
// time out at the gateway before succeeding.
func (g *GitAPI) CreateTree(ctx context.Context, params *CreateTreeParams) (apiResp *Tree, err error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		SetRetryCount(g.treeRetries).
		SetRetryBackoffInterval(g.treeBackoff, maxTreeRetryBackoff).
		SetRetryCondition(isBadGateway).
		Post(v3Trees)

	if err := handleAPIError(resp, err, "create tree"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

func (g *GitAPI) CreateCommit(ctx context.Context, params *CreateCommitParams) (apiResp *Commit, err error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v3Commits)

	if err := handleAPIError(resp, err, "create commit"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

// UpdateRef moves ref (for example "heads/main") to params.SHA.
func (g *GitAPI) UpdateRef(ctx context.Context, ref string, params *UpdateRefParams) (apiResp *Ref, err error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Patch(v3Refs + EscapePath(ref))

	if err := handleAPIError(resp, err, "update ref"); err != nil {
		return nil, err
	}

	return apiResp, nil
}
