package gateway

import "fmt"

// RemoteError is a non-success response from the remote catalog. Message
// carries the server provided error text.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// String includes the status code, for logs.
func (e *RemoteError) String() string {
	return fmt.Sprintf("remote catalog %d: %s", e.StatusCode, e.Message)
}
