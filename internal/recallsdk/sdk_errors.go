package recallsdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("sdk: server url missing")
)

// APIError mirrors the server's error envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// handleAPIError folds the common transport/API error pattern. A transport
// error means the server gave no verdict at all; an API error carries the
// server's code and message.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s: %w", operation, err)
		}
		return fmt.Errorf("api error: %s: %s", operation, resp.Status)
	}

	return nil
}
