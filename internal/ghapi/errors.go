package ghapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoRepository = errors.New("ghapi: repository missing")

	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("ghapi: not found")
	// ErrConflict matches 409 and 422 responses, which the API returns when a
	// supplied sha no longer matches the branch.
	ErrConflict = errors.New("ghapi: conflict")
)

// APIError is the error body returned by the REST API.
type APIError struct {
	StatusCode       int    `json:"-"`
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusUnprocessableEntity
	}
	return false
}

// StatusCode extracts the HTTP status from an error chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// handleAPIError turns a transport failure or an error response into an error
// carrying the operation name.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	// an error body that failed to decode still carries a usable status
	if resp != nil && resp.Response != nil && resp.IsErrorState() {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if e, ok := resp.ErrorResult().(*APIError); ok && e != nil {
			apiErr.Message = e.Message
			apiErr.DocumentationURL = e.DocumentationURL
		}
		return fmt.Errorf("%s: %w", operation, apiErr)
	}

	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	return nil
}
