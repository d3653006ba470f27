package runner

import (
	"context"
	"fmt"

	"github.com/gh-nvat/allure-pr-report/src/pkg/allure"
	"github.com/gh-nvat/allure-pr-report/src/pkg/github"
	"github.com/gh-nvat/allure-pr-report/src/pkg/models"
	"github.com/gh-nvat/allure-pr-report/src/pkg/template"
	"github.com/gh-nvat/allure-pr-report/src/pkg/trace"
	"github.com/pkg/errors"
)

// placeholderURL stands in for the report URL when validating the comment template
const placeholderURL = "https://allure.invalid/report"

type RunnerGitHub struct {
	RunnerBase

	ghclient github.GitHubClient
}

// make RunnerGitHub implement RunnerInterface
var _ RunnerInterface = (*RunnerGitHub)(nil)

func NewRunnerGitHub(
	ctx context.Context,
	options *Options,
	allureClient allure.ReportClient,
	ghclient github.GitHubClient,
	renderer *template.Renderer,
) (*RunnerGitHub, error) {
	if ghclient == nil {
		return nil, fmt.Errorf("GitHub client is not initialized")
	}
	baseRunner, err := NewRunnerBase(ctx, options, allureClient, renderer)
	if err != nil {
		return nil, err
	}
	return &RunnerGitHub{
		RunnerBase: *baseRunner,
		ghclient:   ghclient,
	}, nil
}

// Initialize also checks the comment pattern and template so that a bad
// setting fails before any result is uploaded
func (r *RunnerGitHub) Initialize() error {
	if err := r.RunnerBase.Initialize(); err != nil {
		return err
	}

	cfg := r.Options.Config
	if _, err := github.CompilePrefixPattern(cfg.Body); err != nil {
		return err
	}
	if _, err := r.Renderer.RenderComment(cfg.CommentTemplate, r.commentData(placeholderURL)); err != nil {
		return errors.Wrap(err, "invalid comment template")
	}
	return nil
}

func (r *RunnerGitHub) Process() error {
	return r.process(r.publishComment)
}

func (r *RunnerGitHub) Output(data *models.ReportData) error {
	return r.RunnerBase.Output(data)
}

// publishComment finds the existing report comment and creates or edits it
func (r *RunnerGitHub) publishComment(ctx context.Context, data *models.ReportData) error {
	return trace.Step(ctx, "comment", func(ctx context.Context) error {
		cfg := r.Options.Config

		body, err := r.Renderer.RenderComment(cfg.CommentTemplate, r.commentData(data.ReportURL))
		if err != nil {
			return errors.Wrap(err, "failed to render comment")
		}

		ids, err := r.ghclient.FindComments(ctx, cfg.Repo, cfg.PRNumber, cfg.Body)
		if err != nil {
			return r.softFail(data, "comment", errors.Wrap(err, "failed to find allure comments"))
		}

		result, err := r.ghclient.PostReportComment(ctx, cfg.Repo, cfg.PRNumber, ids, body)
		if result != nil {
			data.Comment = *result
		}
		if err != nil {
			return r.softFail(data, "comment", errors.Wrap(err, "failed to post allure comment"))
		}
		return nil
	})
}

func (r *RunnerGitHub) commentData(reportURL string) template.CommentData {
	cfg := r.Options.Config
	return template.CommentData{
		Body:          cfg.Body,
		ReportURL:     reportURL,
		ExecutionName: cfg.ExecutionName(),
		ExecutionFrom: cfg.ExecutionFrom(),
		ProjectID:     cfg.ProjectID,
	}
}
