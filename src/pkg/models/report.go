package models

import "time"

// ReportData is the run summary exported as report.json
type ReportData struct {
	ProjectID     string        `json:"projectId"`
	ExecutionName string        `json:"executionName"`
	ExecutionFrom string        `json:"executionFrom"`
	ReportURL     string        `json:"reportUrl"`
	Timestamp     time.Time     `json:"timestamp"`
	FileCount     int           `json:"fileCount"`
	UploadMessage string        `json:"uploadMessage,omitempty"`
	CleanMessage  string        `json:"cleanMessage,omitempty"`
	Comment       CommentResult `json:"comment"`

	// Steps that failed without aborting the run, keyed by step name
	Warnings map[string]string `json:"warnings,omitempty"`
}

// CommentResult describes the PR comment step
type CommentResult struct {
	Action    CommentAction `json:"action"`
	CommentID int64         `json:"commentId,omitempty"`
	// Matching comment ids found before posting
	Matches []int64 `json:"matches,omitempty"`
}
