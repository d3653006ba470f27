package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv clears every bound variable, then applies values
func setEnv(t *testing.T, values map[string]string) {
	t.Helper()
	for _, s := range settings {
		for _, env := range s.envs {
			t.Setenv(env, "")
		}
	}
	for k, v := range values {
		t.Setenv(k, v)
	}
}

func fullEnv() map[string]string {
	return map[string]string{
		"INPUT_TOKEN":             "ghs_secret",
		"INPUT_ALLURE_SERVER":     "https://allure.example.com/",
		"INPUT_BODY":              "Allure report",
		"INPUT_PR_NUMBER":         "17",
		"INPUT_PROJECT_ID":        "web",
		"INPUT_RESULTS_DIRECTORY": "allure-results",
		"GITHUB_REPOSITORY":       "acme/web",
	}
}

func loadFromEnv(t *testing.T) (*ActionConfig, error) {
	t.Helper()
	v, err := NewViper(nil)
	require.NoError(t, err)
	return Load(v)
}

func TestLoad_AllInputs(t *testing.T) {
	setEnv(t, fullEnv())

	cfg, err := loadFromEnv(t)
	require.NoError(t, err)

	assert.Equal(t, "ghs_secret", cfg.Token)
	assert.Equal(t, "https://allure.example.com", cfg.AllureServer, "trailing slash is trimmed")
	assert.Equal(t, "Allure report", cfg.Body)
	assert.Equal(t, 17, cfg.PRNumber)
	assert.Equal(t, "web", cfg.ProjectID)
	assert.Equal(t, "acme/web", cfg.Repo)
	assert.Equal(t, RunModeGitHub, cfg.RunMode)
	assert.Equal(t, DefaultWorkspaceDir, cfg.WorkspaceDir)
	assert.Equal(t, DefaultGitHubAPIURL, cfg.GitHubAPIURL)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 300*time.Millisecond, cfg.BackoffFactor)
	assert.False(t, cfg.Strict)

	assert.Equal(t, "PR-17", cfg.ExecutionName())
	assert.Equal(t, "https://github.com/acme/web/pull/17", cfg.ExecutionFrom())
	assert.Equal(t, "/github/workspace/allure-results", cfg.ResultsPath())
}

func TestLoad_MissingToken(t *testing.T) {
	env := fullEnv()
	delete(env, "INPUT_TOKEN")
	setEnv(t, env)

	_, err := loadFromEnv(t)
	require.Error(t, err)

	var missing *MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "token", missing.Name)
	assert.Equal(t, "Input required and not supplied: token", err.Error())
}

func TestLoad_ReportsFirstMissingInput(t *testing.T) {
	env := fullEnv()
	delete(env, "INPUT_BODY")
	delete(env, "INPUT_PROJECT_ID")
	setEnv(t, env)

	_, err := loadFromEnv(t)
	var missing *MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "body", missing.Name)
}

func TestLoad_MissingRepository(t *testing.T) {
	env := fullEnv()
	delete(env, "GITHUB_REPOSITORY")
	setEnv(t, env)

	_, err := loadFromEnv(t)
	var missing *MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.True(t, missing.Env)
	assert.Contains(t, err.Error(), "GITHUB_REPOSITORY")
}

func TestLoad_InvalidPRNumber(t *testing.T) {
	env := fullEnv()
	env["INPUT_PR_NUMBER"] = "abc"
	setEnv(t, env)

	_, err := loadFromEnv(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pr_number")
}

func TestLoad_LocalModeSkipsGitHubInputs(t *testing.T) {
	setEnv(t, map[string]string{
		"INPUT_RUN_MODE":          "local",
		"INPUT_ALLURE_SERVER":     "http://localhost:5050",
		"INPUT_PROJECT_ID":        "default",
		"INPUT_RESULTS_DIRECTORY": "/tmp/results",
	})

	cfg, err := loadFromEnv(t)
	require.NoError(t, err)
	assert.Equal(t, RunModeLocal, cfg.RunMode)
	assert.Equal(t, "local", cfg.ExecutionName())
	assert.Empty(t, cfg.ExecutionFrom())
	assert.Equal(t, "/tmp/results", cfg.ResultsPath(), "absolute paths are used as-is")
}

func TestLoad_InvalidRunMode(t *testing.T) {
	env := fullEnv()
	env["INPUT_RUN_MODE"] = "gitlab"
	setEnv(t, env)

	_, err := loadFromEnv(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run mode")
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	setEnv(t, fullEnv())

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--project-id", "api", "--max-retries", "2", "--backoff-factor", "0.01"}))

	v, err := NewViper(fs)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.ProjectID)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.BackoffFactor)
	// unchanged flags fall back to env
	assert.Equal(t, "ghs_secret", cfg.Token)
}

func TestLoader_ApplyFileBelowEnv(t *testing.T) {
	env := fullEnv()
	delete(env, "INPUT_PROJECT_ID")
	setEnv(t, env)

	path := filepath.Join(t.TempDir(), "allure.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project-id: from-file\ntoken: file-token\nstrict: true\n"), 0644))

	v, err := NewViper(nil)
	require.NoError(t, err)
	require.NoError(t, NewLoader().Apply(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ProjectID)
	assert.Equal(t, "ghs_secret", cfg.Token, "env wins over file")
	assert.True(t, cfg.Strict)
}

func TestLoader_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allure.yaml")
	require.NoError(t, os.WriteFile(path, []byte("projekt: x\n"), 0644))

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoadEnvFile(t *testing.T) {
	env := fullEnv()
	delete(env, "INPUT_PROJECT_ID")
	setEnv(t, env)
	require.NoError(t, os.Unsetenv("INPUT_PROJECT_ID"))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("INPUT_PROJECT_ID=from-dotenv\nINPUT_TOKEN=ignored\n"), 0644))
	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() { _ = os.Unsetenv("INPUT_PROJECT_ID") })

	cfg, err := loadFromEnv(t)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.ProjectID)
	assert.Equal(t, "ghs_secret", cfg.Token, "existing variables are not overridden")
}
