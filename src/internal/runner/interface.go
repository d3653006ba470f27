package runner

import "github.com/gh-nvat/allure-pr-report/src/pkg/models"

type RunnerInterface interface {
	// Initialize validates dependencies and settings before anything is sent
	Initialize() error

	// Main routine to process the runner
	Process() error

	// Handling the export
	Output(data *models.ReportData) error
}

// Runner pairs the selected run mode with its implementation
type Runner struct {
	RunMode  string
	Instance RunnerInterface
}

// Run initializes and processes the selected runner
func (r *Runner) Run() error {
	if err := r.Instance.Initialize(); err != nil {
		return err
	}
	return r.Instance.Process()
}
