package request

import (
	"encoding/json"
	"fmt"

	"github.com/beevik/etree"
)

// NetworkError reports an HTTP-layer failure (connection reset, timeout)
// that persisted through the bounded retry schedule. It is recoverable at
// the handle level, not fatal to the process.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request: network failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError reports an HTTP 5xx response that persisted through the
// single server-side retry.
type ServerError struct {
	Status  int
	Body    []byte
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request: server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request: server error %d", e.Status)
}

// RejectedError reports an HTTP 4xx response. Rejections are never
// retried; the status and the Alma error message are surfaced as-is.
type RejectedError struct {
	Status  int
	Body    []byte
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request: rejected with status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request: rejected with status %d", e.Status)
}

// almaErrorList mirrors the JSON error envelope returned by the Alma API.
type almaErrorList struct {
	ErrorList struct {
		Error []struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		} `json:"error"`
	} `json:"errorList"`
}

// errorMessage extracts the human-readable error from an Alma error body.
// Bibliographic resources answer with XML, users/sets/jobs with JSON; both
// envelopes carry an errorMessage element.
func errorMessage(body []byte) string {
	var envelope almaErrorList
	if err := json.Unmarshal(body, &envelope); err == nil {
		if errs := envelope.ErrorList.Error; len(errs) > 0 && errs[0].ErrorMessage != "" {
			return errs[0].ErrorMessage
		}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err == nil {
		if el := doc.FindElement("//errorMessage"); el != nil {
			return el.Text()
		}
	}

	return ""
}
