package allure

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMissingField is the cause of an UpstreamError for a response without the expected JSON shape
	ErrMissingField = errors.New("missing field in response")
	// ErrMissingReportURL is returned when generate-report answers without data.report_url
	ErrMissingReportURL = errors.Wrap(ErrMissingField, "data.report_url")
)

// UpstreamError is a non-2xx or malformed response from the Allure server
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("allure %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("allure %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
