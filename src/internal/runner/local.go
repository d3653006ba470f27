package runner

import (
	"context"

	"github.com/gh-nvat/allure-pr-report/src/pkg/allure"
	"github.com/gh-nvat/allure-pr-report/src/pkg/models"
	"github.com/gh-nvat/allure-pr-report/src/pkg/template"
)

// RunnerLocal uploads and generates the report without touching GitHub
type RunnerLocal struct {
	RunnerBase
}

// make RunnerLocal implement RunnerInterface
var _ RunnerInterface = (*RunnerLocal)(nil)

func NewRunnerLocal(
	ctx context.Context,
	options *Options,
	allureClient allure.ReportClient,
	renderer *template.Renderer,
) (*RunnerLocal, error) {
	baseRunner, err := NewRunnerBase(ctx, options, allureClient, renderer)
	if err != nil {
		return nil, err
	}
	runner := &RunnerLocal{
		RunnerBase: *baseRunner,
	}
	return runner, nil
}

func (r *RunnerLocal) Initialize() error {
	return r.RunnerBase.Initialize()
}

func (r *RunnerLocal) Process() error {
	return r.RunnerBase.Process()
}

func (r *RunnerLocal) Output(data *models.ReportData) error {
	return r.RunnerBase.Output(data)
}
