package models

// ArtifactRecord is a single test-result file encoded for upload.
// Only non-empty regular files produce a record.
type ArtifactRecord struct {
	FileName      string `json:"file_name"`
	ContentBase64 string `json:"content_base64"`
}

// ReportPayload is the body sent to the Allure send-results endpoint.
// The server treats Results as an unordered set.
type ReportPayload struct {
	Results []ArtifactRecord `json:"results"`
}

// NewReportPayload wraps records, never leaving Results nil so that an
// empty directory serializes as {"results": []}.
func NewReportPayload(records []ArtifactRecord) ReportPayload {
	if records == nil {
		records = []ArtifactRecord{}
	}
	return ReportPayload{Results: records}
}
