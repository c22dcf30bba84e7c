package ghapi

import (
	"encoding/base64"
	"strings"
)

const (
	ContentTypeFile = "file"
	ContentTypeDir  = "dir"

	EntryTypeBlob   = "blob"
	EntryTypeTree   = "tree"
	EntryTypeCommit = "commit"
)

// ContentObject is a file or directory returned by the contents API in its
// object media type.
type ContentObject struct {
	Type     string           `json:"type"`
	Name     string           `json:"name"`
	Path     string           `json:"path"`
	SHA      string           `json:"sha"`
	Size     int64            `json:"size"`
	Content  string           `json:"content,omitempty"`
	Encoding string           `json:"encoding,omitempty"`
	HTMLURL  string           `json:"html_url"`
	Entries  []*ContentObject `json:"entries,omitempty"`
}

// Decode returns the file body. The API wraps base64 content across lines.
func (o *ContentObject) Decode() ([]byte, error) {
	if o.Encoding != "" && o.Encoding != "base64" {
		return []byte(o.Content), nil
	}
	return base64.StdEncoding.DecodeString(strings.ReplaceAll(o.Content, "\n", ""))
}

func EncodeContent(body []byte) string {
	return base64.StdEncoding.EncodeToString(body)
}

type PutContentParams struct {
	Message string `json:"message"`
	// Content is the base64 encoded body.
	Content string `json:"content"`
	// SHA of the blob being replaced; empty when creating.
	SHA    string `json:"sha,omitempty"`
	Branch string `json:"branch,omitempty"`
}

type DeleteContentParams struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch,omitempty"`
}

// ContentWriteResponse is returned by create, update and delete calls.
// Content is nil after a delete.
type ContentWriteResponse struct {
	Content *ContentObject `json:"content"`
	Commit  *Commit        `json:"commit"`
	// Created is true when the API answered 201.
	Created bool `json:"-"`
}

type ObjectRef struct {
	SHA  string `json:"sha"`
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
}

type Branch struct {
	Name   string       `json:"name"`
	Commit BranchCommit `json:"commit"`
}

type BranchCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Tree ObjectRef `json:"tree"`
	} `json:"commit"`
}

type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size,omitempty"`
}

type Tree struct {
	SHA       string       `json:"sha"`
	Truncated bool         `json:"truncated"`
	Entries   []*TreeEntry `json:"tree"`
}

type CreateTreeParams struct {
	BaseTree string       `json:"base_tree,omitempty"`
	Entries  []*TreeEntry `json:"tree"`
}

type Commit struct {
	SHA     string      `json:"sha"`
	Message string      `json:"message,omitempty"`
	HTMLURL string      `json:"html_url,omitempty"`
	Tree    ObjectRef   `json:"tree"`
	Parents []ObjectRef `json:"parents,omitempty"`
}

type CreateCommitParams struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type Ref struct {
	Ref    string    `json:"ref"`
	Object ObjectRef `json:"object"`
}

type UpdateRefParams struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}
