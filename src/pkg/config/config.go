package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var logger = log.WithField("package", "config")

// setting maps a configuration key to its flag and environment variables
type setting struct {
	key  string
	flag string
	envs []string
}

var settings = []setting{
	{key: "token", flag: "token", envs: []string{"INPUT_TOKEN"}},
	{key: "allure_server", flag: "allure-server", envs: []string{"INPUT_ALLURE_SERVER"}},
	{key: "body", flag: "body", envs: []string{"INPUT_BODY"}},
	{key: "pr_number", flag: "pr-number", envs: []string{"INPUT_PR_NUMBER"}},
	{key: "project_id", flag: "project-id", envs: []string{"INPUT_PROJECT_ID"}},
	{key: "results_directory", flag: "results-directory", envs: []string{"INPUT_RESULTS_DIRECTORY"}},
	{key: "repo", flag: "repo", envs: []string{"GITHUB_REPOSITORY"}},
	{key: "workspace_dir", flag: "workspace-dir", envs: []string{"GITHUB_WORKSPACE"}},
	{key: "github_api_url", flag: "github-api-url", envs: []string{"GITHUB_API_URL"}},
	{key: "run_mode", flag: "run-mode", envs: []string{"INPUT_RUN_MODE"}},
	{key: "strict", flag: "strict", envs: []string{"INPUT_STRICT"}},
	{key: "comment_template", flag: "comment-template", envs: []string{"INPUT_COMMENT_TEMPLATE"}},
	{key: "output_dir", flag: "output-dir", envs: []string{"INPUT_OUTPUT_DIR"}},
	{key: "trace", flag: "trace", envs: []string{"INPUT_TRACE"}},
	{key: "log_level", flag: "log-level", envs: []string{"INPUT_LOG_LEVEL"}},
	{key: "max_retries", flag: "max-retries", envs: []string{"INPUT_MAX_RETRIES"}},
	{key: "backoff_factor", flag: "backoff-factor", envs: []string{"INPUT_BACKOFF_FACTOR"}},
}

// requiredInputs are checked in this order; only the first missing one is reported.
var requiredInputs = []string{
	"token",
	"allure_server",
	"body",
	"pr_number",
	"project_id",
	"results_directory",
}

// githubOnly inputs may be omitted in local run mode
var githubOnly = map[string]bool{
	"token":     true,
	"body":      true,
	"pr_number": true,
}

// RegisterFlags defines every configuration flag on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("token", "", "GitHub API token [INPUT_TOKEN]")
	fs.String("allure-server", "", "Base URL of the Allure docker service [INPUT_ALLURE_SERVER]")
	fs.String("body", "", "Comment prefix, also matched against existing comments [INPUT_BODY]")
	fs.String("pr-number", "", "Pull request number [INPUT_PR_NUMBER]")
	fs.String("project-id", "", "Allure project id [INPUT_PROJECT_ID]")
	fs.String("results-directory", "", "Results directory relative to the workspace [INPUT_RESULTS_DIRECTORY]")
	fs.String("repo", "", "GitHub repository owner/name [GITHUB_REPOSITORY]")
	fs.String("workspace-dir", DefaultWorkspaceDir, "Workspace mount the results directory is resolved against [GITHUB_WORKSPACE]")
	fs.String("github-api-url", DefaultGitHubAPIURL, "GitHub REST API base URL [GITHUB_API_URL]")
	fs.String("run-mode", RunModeGitHub, "Run mode: github or local [INPUT_RUN_MODE]")
	fs.Bool("strict", false, "Fail the run when upload or comment steps fail [INPUT_STRICT]")
	fs.String("comment-template", "", "Go template for the comment body [INPUT_COMMENT_TEMPLATE]")
	fs.String("output-dir", "", "Directory for report.json and performance-report.json [INPUT_OUTPUT_DIR]")
	fs.Bool("trace", false, "Record step timings into output-dir [INPUT_TRACE]")
	fs.String("log-level", DefaultLogLevel, "Log level [INPUT_LOG_LEVEL]")
	fs.Int("max-retries", DefaultMaxRetries, "Maximum HTTP retries per call [INPUT_MAX_RETRIES]")
	fs.Float64("backoff-factor", DefaultBackoffFactor, "Exponential backoff factor in seconds [INPUT_BACKOFF_FACTOR]")
}

// NewViper returns a viper instance with every setting bound to its
// environment variables and, when fs is not nil, to its flag.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("workspace_dir", DefaultWorkspaceDir)
	v.SetDefault("github_api_url", DefaultGitHubAPIURL)
	v.SetDefault("run_mode", RunModeGitHub)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("backoff_factor", DefaultBackoffFactor)

	for _, s := range settings {
		if err := v.BindEnv(append([]string{s.key}, s.envs...)...); err != nil {
			return nil, errors.Wrapf(err, "failed to bind env for %s", s.key)
		}
		if fs == nil {
			continue
		}
		if flag := fs.Lookup(s.flag); flag != nil {
			if err := v.BindPFlag(s.key, flag); err != nil {
				return nil, errors.Wrapf(err, "failed to bind flag %s", s.flag)
			}
		}
	}
	return v, nil
}

// Load reads and validates the configuration
func Load(v *viper.Viper) (*ActionConfig, error) {
	cfg := &ActionConfig{
		Token:            v.GetString("token"),
		AllureServer:     strings.TrimRight(v.GetString("allure_server"), "/"),
		Repo:             v.GetString("repo"),
		Body:             v.GetString("body"),
		ProjectID:        v.GetString("project_id"),
		ResultsDirectory: v.GetString("results_directory"),
		WorkspaceDir:     v.GetString("workspace_dir"),
		GitHubAPIURL:     v.GetString("github_api_url"),
		RunMode:          strings.ToLower(v.GetString("run_mode")),
		Strict:           v.GetBool("strict"),
		CommentTemplate:  v.GetString("comment_template"),
		OutputDir:        v.GetString("output_dir"),
		TraceEnabled:     v.GetBool("trace"),
		LogLevel:         v.GetString("log_level"),
		MaxRetries:       v.GetInt("max_retries"),
		BackoffFactor:    time.Duration(v.GetFloat64("backoff_factor") * float64(time.Second)),
	}

	if cfg.RunMode != RunModeGitHub && cfg.RunMode != RunModeLocal {
		return nil, errors.Errorf("invalid run mode: %s", cfg.RunMode)
	}

	for _, name := range requiredInputs {
		if cfg.RunMode == RunModeLocal && githubOnly[name] {
			continue
		}
		if v.GetString(name) == "" {
			return nil, &MissingInputError{Name: name}
		}
	}
	if cfg.RunMode == RunModeGitHub && cfg.Repo == "" {
		return nil, &MissingInputError{Name: "GITHUB_REPOSITORY", Env: true}
	}

	if raw := v.GetString("pr_number"); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			return nil, errors.Errorf("invalid pr_number: %q", raw)
		}
		cfg.PRNumber = n
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.Errorf("invalid max_retries: %d", cfg.MaxRetries)
	}
	if cfg.BackoffFactor < 0 {
		return nil, errors.Errorf("invalid backoff_factor: %s", cfg.BackoffFactor)
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = DefaultWorkspaceDir
	}

	logger.WithField("runMode", cfg.RunMode).WithField("projectId", cfg.ProjectID).Debug("Loaded configuration")
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment. Variables already set are left untouched.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "failed to load env file %s", path)
	}
	logger.WithField("path", path).Debug("Loaded env file")
	return nil
}

// ConfigLoader defines the interface for loading configuration files
type ConfigLoader interface {
	// LoadFile reads a YAML configuration file into a settings map
	LoadFile(path string) (map[string]interface{}, error)
	// Apply merges the file at path into v below env and flags
	Apply(v *viper.Viper, path string) error
}

// Loader handles loading configuration files
type Loader struct{}

// Ensure Loader implements ConfigLoader
var _ ConfigLoader = (*Loader)(nil)

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile reads a YAML configuration file. Keys may use dashes or
// underscores, e.g. allure-server or allure_server.
func (l *Loader) LoadFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	known := map[string]bool{}
	for _, s := range settings {
		known[s.key] = true
	}

	values := make(map[string]interface{}, len(raw))
	for k, val := range raw {
		key := strings.ReplaceAll(strings.ToLower(k), "-", "_")
		if !known[key] {
			return nil, errors.Errorf("unknown config key: %s", k)
		}
		values[key] = val
	}
	return values, nil
}

// Apply merges the file at path into v
func (l *Loader) Apply(v *viper.Viper, path string) error {
	values, err := l.LoadFile(path)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(values); err != nil {
		return errors.Wrap(err, "failed to merge config file")
	}
	logger.WithField("path", path).Debug("Loaded config file")
	return nil
}
