package ghapi

import (
	"context"
	"net/http"

	"github.com/imroc/req/v3"
)

const contentsPath = "/contents/"

type ContentsAPI struct {
	client *req.Client
}

func newContentsAPI(client *req.Client) *ContentsAPI {
	return &ContentsAPI{
		client: client,
	}
}

// Get reads a file or directory at ref. A missing path returns an error
// matching ErrNotFound.
func (c *ContentsAPI) Get(ctx context.Context, path, ref string) (obj *ContentObject, err error) {
	r := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", MediaTypeObject).
		SetSuccessResult(&obj)
	if ref != "" {
		r.SetQueryParam("ref", ref)
	}
	resp, err := r.Get(contentsPath + EscapePath(path))

	if err := handleAPIError(resp, err, "get contents"); err != nil {
		return nil, err
	}

	return obj, nil
}

// Put creates or replaces a file. Created is set when the file did not exist.
func (c *ContentsAPI) Put(ctx context.Context, path string, params *PutContentParams) (apiResp *ContentWriteResponse, err error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Put(contentsPath + EscapePath(path))

	if err := handleAPIError(resp, err, "put contents"); err != nil {
		return nil, err
	}

	apiResp.Created = resp.StatusCode == http.StatusCreated
	return apiResp, nil
}

func (c *ContentsAPI) Delete(ctx context.Context, path string, params *DeleteContentParams) (apiResp *ContentWriteResponse, err error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Delete(contentsPath + EscapePath(path))

	if err := handleAPIError(resp, err, "delete contents"); err != nil {
		return nil, err
	}

	if apiResp == nil {
		apiResp = &ContentWriteResponse{}
	}
	return apiResp, nil
}
