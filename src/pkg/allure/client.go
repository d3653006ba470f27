package allure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "allure")

const (
	// ExecutionType tags generated reports as coming from GitHub Actions
	ExecutionType = "github-actions"

	sendResultsPath    = "/allure-docker-service/send-results"
	generateReportPath = "/allure-docker-service/generate-report"
	cleanResultsPath   = "/allure-docker-service/clean-results"

	// maxErrorBody bounds how much of a failed response is kept in UpstreamError
	maxErrorBody = 1024
)

// ReportClient defines the Allure docker service operations used by a run
type ReportClient interface {
	// SendResults uploads the results payload and returns the server message
	SendResults(ctx context.Context, projectID string, payload []byte) (string, error)
	// GenerateReport builds a report from uploaded results and returns its URL
	GenerateReport(ctx context.Context, opts GenerateOptions, payload []byte) (string, error)
	// CleanResults purges uploaded results and returns the server message
	CleanResults(ctx context.Context, projectID string) (string, error)
}

// GenerateOptions is the execution metadata attached to a generated report
type GenerateOptions struct {
	ProjectID     string
	ExecutionName string
	ExecutionFrom string
	ExecutionType string
}

// Client talks to an Allure docker service
type Client struct {
	baseURL string
	http    *http.Client
}

// Ensure Client implements ReportClient
var _ ReportClient = (*Client)(nil)

// NewClient creates a client for server. httpClient should be the retrying client.
func NewClient(server string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(server, "/"),
		http:    httpClient,
	}
}

// metaDataResponse is the send-results and clean-results response shape
type metaDataResponse struct {
	MetaData *struct {
		Message *string `json:"message"`
	} `json:"meta_data"`
}

// generateResponse is the generate-report response shape
type generateResponse struct {
	Data *struct {
		ReportURL *string `json:"report_url"`
	} `json:"data"`
}

// SendResults posts payload to send-results for projectID
func (c *Client) SendResults(ctx context.Context, projectID string, payload []byte) (string, error) {
	logger.Info("Uploading test results")

	query := url.Values{"project_id": {projectID}}
	var res metaDataResponse
	status, err := c.do(ctx, http.MethodPost, sendResultsPath, query, payload, &res)
	if err != nil {
		return "", err
	}
	if res.MetaData == nil || res.MetaData.Message == nil {
		return "", &UpstreamError{Endpoint: sendResultsPath, StatusCode: status, Err: errors.Wrap(ErrMissingField, "meta_data.message")}
	}

	logger.WithField("message", *res.MetaData.Message).Info("Results uploaded")
	return *res.MetaData.Message, nil
}

// GenerateReport triggers report generation and returns data.report_url.
// The payload is sent again as the request body; the server ignores it.
func (c *Client) GenerateReport(ctx context.Context, opts GenerateOptions, payload []byte) (string, error) {
	logger.Info("Generating Allure report")

	if opts.ExecutionType == "" {
		opts.ExecutionType = ExecutionType
	}
	query := url.Values{
		"project_id":     {opts.ProjectID},
		"execution_name": {opts.ExecutionName},
		"execution_from": {opts.ExecutionFrom},
		"execution_type": {opts.ExecutionType},
	}
	var res generateResponse
	status, err := c.do(ctx, http.MethodGet, generateReportPath, query, payload, &res)
	if err != nil {
		return "", err
	}
	if res.Data == nil || res.Data.ReportURL == nil || *res.Data.ReportURL == "" {
		return "", &UpstreamError{Endpoint: generateReportPath, StatusCode: status, Err: ErrMissingReportURL}
	}

	logger.WithField("reportUrl", *res.Data.ReportURL).Info("Report generated")
	return *res.Data.ReportURL, nil
}

// CleanResults purges the uploaded results of projectID
func (c *Client) CleanResults(ctx context.Context, projectID string) (string, error) {
	logger.Info("Purging result files")

	query := url.Values{"project_id": {projectID}}
	var res metaDataResponse
	status, err := c.do(ctx, http.MethodGet, cleanResultsPath, query, nil, &res)
	if err != nil {
		return "", err
	}
	if res.MetaData == nil || res.MetaData.Message == nil {
		return "", &UpstreamError{Endpoint: cleanResultsPath, StatusCode: status, Err: errors.Wrap(ErrMissingField, "meta_data.message")}
	}

	logger.WithField("message", *res.MetaData.Message).Info("Results purged")
	return *res.MetaData.Message, nil
}

// do sends one request and decodes a 2xx JSON body into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) (int, error) {
	endpoint := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s request", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	logger.WithField("endpoint", path).WithField("status", resp.StatusCode).Info("Response code")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.Wrapf(err, "failed to read %s response", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &UpstreamError{Endpoint: path, StatusCode: resp.StatusCode, Body: truncate(string(data), maxErrorBody)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, &UpstreamError{Endpoint: path, StatusCode: resp.StatusCode, Body: truncate(string(data), maxErrorBody), Err: errors.Wrap(err, "invalid JSON")}
	}
	return resp.StatusCode, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
