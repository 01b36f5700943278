package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"taskboard/internal/service"
)

// APIError is a non-2xx response from the hosted backend.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// Is maps HTTP status codes onto the service sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case service.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case service.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// errorBody covers the error shapes of the REST, auth, and storage APIs.
type errorBody struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	StatusCode       string `json:"statusCode"`
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = firstNonEmpty(body.ErrorDescription, body.Msg, body.Message, body.Error)
		switch code := body.Code.(type) {
		case string:
			apiErr.Code = code
		}
		if body.ErrorCode != "" {
			apiErr.Code = body.ErrorCode
		} else if apiErr.Code == "" && body.Error != "" && body.Error != apiErr.Message {
			apiErr.Code = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// wrapError wraps API errors with user-friendly messages.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out")
	}
	if errors.Is(err, service.ErrNotSignedIn) {
		return fmt.Errorf("%w (run: taskboard login)", service.ErrNotSignedIn)
	}
	if errors.Is(err, service.ErrUnauthorized) {
		return fmt.Errorf("%w (run: taskboard login): %w", service.ErrUnauthorized, err)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
