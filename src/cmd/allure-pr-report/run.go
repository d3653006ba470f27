package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-githubactions"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gh-nvat/allure-pr-report/src/internal/runner"
	"github.com/gh-nvat/allure-pr-report/src/pkg/allure"
	"github.com/gh-nvat/allure-pr-report/src/pkg/config"
	"github.com/gh-nvat/allure-pr-report/src/pkg/github"
	"github.com/gh-nvat/allure-pr-report/src/pkg/httpclient"
	"github.com/gh-nvat/allure-pr-report/src/pkg/template"
	"github.com/gh-nvat/allure-pr-report/src/pkg/trace"
)

const serviceName = "allure-pr-report"

func run(cmd *cobra.Command, opts *options, action *githubactions.Action, stdout io.Writer) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log_level")
	}
	log.SetLevel(level)

	shutdown, err := trace.InitTracer(serviceName, cfg.TraceEnabled, cfg.OutputDir)
	if err != nil {
		return errors.Wrap(err, "failed to initialize tracing")
	}
	defer shutdown()

	r, err := initialize(cmd.Context(), cfg, action, stdout)
	if err != nil {
		return err
	}
	return r.Run()
}

// loadConfig applies the env file, then the config file, then env and flags
func loadConfig(cmd *cobra.Command, opts *options) (*config.ActionConfig, error) {
	if opts.envFile != "" {
		if err := config.LoadEnvFile(opts.envFile); err != nil {
			return nil, err
		}
	}

	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if opts.configFile != "" {
		if err := config.NewLoader().Apply(v, opts.configFile); err != nil {
			return nil, err
		}
	}
	return config.Load(v)
}

// Do all initialization steps here:
// 1. Build the retrying HTTP client shared by every outbound call
// 2. Create the Allure client and the comment renderer
// 3. Create the runner for the run mode, with a GitHub client in github mode
func initialize(ctx context.Context, cfg *config.ActionConfig, action *githubactions.Action, stdout io.Writer) (*runner.Runner, error) {
	httpOpts := httpclient.DefaultOptions()
	httpOpts.MaxRetries = cfg.MaxRetries
	httpOpts.BackoffFactor = cfg.BackoffFactor
	httpClient := httpclient.New(httpOpts)

	allureClient := allure.NewClient(cfg.AllureServer, httpClient)
	renderer := template.NewRenderer()

	runnerOpts := &runner.Options{
		Config: cfg,
		Action: action,
		Stdout: stdout,
	}

	var runnerInstance runner.RunnerInterface
	var err error
	switch cfg.RunMode {
	case config.RunModeGitHub:
		ghClient, ghErr := github.NewClient(cfg.Token, cfg.GitHubAPIURL, httpClient)
		if ghErr != nil {
			return nil, errors.Wrap(ghErr, "GitHub authentication failed")
		}
		runnerInstance, err = runner.NewRunnerGitHub(ctx, runnerOpts, allureClient, ghClient, renderer)
	case config.RunModeLocal:
		runnerInstance, err = runner.NewRunnerLocal(ctx, runnerOpts, allureClient, renderer)
	default:
		return nil, fmt.Errorf("invalid run mode: %s", cfg.RunMode)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s runner", cfg.RunMode)
	}

	return &runner.Runner{
		RunMode:  cfg.RunMode,
		Instance: runnerInstance,
	}, nil
}
