package build

import "fmt"

// ErrorHTTPRequest is returned when the build executor responds with a
// non-2xx status code.
type ErrorHTTPRequest struct {
	Body   []byte
	Status int
}

func (e *ErrorHTTPRequest) Error() string {
	return fmt.Sprintf("http request failed, status: %d, body: %q", e.Status, string(e.Body))
}
