package remotetree

import (
	"encoding/base64"
	"path"
	"strings"

	"github.com/openmined/cardsync/internal/ghapi"
)

const (
	opRead   = "read"
	opUpsert = "upsert"
	opDelete = "delete"
	opRename = "rename"
	opAwait  = "await"
)

// Object is the last observed state of one remote file or directory.
type Object struct {
	Type string
	Name string
	Path string
	SHA  string
	URL  string
}

func (o *Object) IsDir() bool {
	return o.Type == ghapi.ContentTypeDir
}

func objectFrom(obj *ghapi.ContentObject) Object {
	if obj == nil {
		return Object{}
	}
	return Object{
		Type: obj.Type,
		Name: obj.Name,
		Path: obj.Path,
		SHA:  obj.SHA,
		URL:  obj.HTMLURL,
	}
}

// Content is the result of a read. A missing path yields Exists == false and
// is not an error.
type Content struct {
	Object
	Exists bool
	// Body is base64 encoded; empty for directories.
	Body string
}

func (c *Content) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Body, "\n", ""))
}

func missing(p string) *Content {
	return &Content{Object: Object{Name: path.Base(p), Path: p}}
}

type Status string

const (
	StatusNoop    Status = "noop"
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
)

type UpsertResult struct {
	Status    Status
	Object    Object
	CommitSHA string
}

type RenameResult struct {
	OldPrefix string
	NewPrefix string
	CommitSHA string
	TreeSHA   string
	// Moved counts the blob entries whose path changed.
	Moved int
}

// Mutation is emitted after every successful mutating call.
type Mutation struct {
	Op    string
	Paths []string
}
