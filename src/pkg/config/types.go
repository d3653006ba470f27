package config

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	RunModeGitHub = "github"
	RunModeLocal  = "local"

	// DefaultWorkspaceDir is where the Actions runner mounts the checkout
	// inside a container action.
	DefaultWorkspaceDir = "/github/workspace"
	DefaultGitHubAPIURL = "https://api.github.com"

	DefaultMaxRetries    = 5
	DefaultBackoffFactor = 0.3
	DefaultLogLevel      = "info"
)

// ActionConfig holds every parameter of a run. It is built once by Load
// and not modified afterwards.
type ActionConfig struct {
	Token            string
	AllureServer     string
	Repo             string // owner/name
	Body             string // comment prefix, also used as the match expression
	PRNumber         int
	ProjectID        string
	ResultsDirectory string // relative to WorkspaceDir unless absolute

	WorkspaceDir    string
	GitHubAPIURL    string
	RunMode         string
	Strict          bool
	CommentTemplate string
	OutputDir       string
	TraceEnabled    bool
	LogLevel        string

	MaxRetries    int
	BackoffFactor time.Duration
}

// ResultsPath resolves the results directory against the workspace mount.
func (c *ActionConfig) ResultsPath() string {
	if filepath.IsAbs(c.ResultsDirectory) {
		return c.ResultsDirectory
	}
	return filepath.Join(c.WorkspaceDir, c.ResultsDirectory)
}

// ExecutionName is the Allure execution name, e.g. PR-12
func (c *ActionConfig) ExecutionName() string {
	if c.PRNumber == 0 {
		return "local"
	}
	return fmt.Sprintf("PR-%d", c.PRNumber)
}

// ExecutionFrom links the Allure execution back to the pull request
func (c *ActionConfig) ExecutionFrom() string {
	if c.PRNumber == 0 || c.Repo == "" {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/pull/%d", c.Repo, c.PRNumber)
}

// MissingInputError reports a required value that was not supplied.
type MissingInputError struct {
	Name string
	// Env is set for host environment variables that are not action inputs
	Env bool
}

func (e *MissingInputError) Error() string {
	if e.Env {
		return fmt.Sprintf("Environment variable required and not supplied: %s", e.Name)
	}
	return fmt.Sprintf("Input required and not supplied: %s", e.Name)
}
