package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gh-nvat/allure-pr-report/src/pkg/allure"
	"github.com/gh-nvat/allure-pr-report/src/pkg/artifacts"
	"github.com/gh-nvat/allure-pr-report/src/pkg/models"
	"github.com/gh-nvat/allure-pr-report/src/pkg/template"
	"github.com/gh-nvat/allure-pr-report/src/pkg/trace"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "runner")

const reportFileName = "report.json"

// publishFunc runs once the report URL is known, before cleanup
type publishFunc func(ctx context.Context, data *models.ReportData) error

type RunnerBase struct {
	Context context.Context
	Options *Options

	RunMode string

	Allure   allure.ReportClient
	Renderer *template.Renderer
}

// make RunnerBase implement RunnerInterface
var _ RunnerInterface = (*RunnerBase)(nil)

func NewRunnerBase(
	ctx context.Context,
	options *Options,
	allureClient allure.ReportClient,
	renderer *template.Renderer,
) (*RunnerBase, error) {
	if options == nil || options.Config == nil {
		return nil, fmt.Errorf("runner options and config are required")
	}
	if options.Stdout == nil {
		options.Stdout = os.Stdout
	}
	runner := &RunnerBase{
		Context:  ctx,
		Options:  options,
		RunMode:  options.Config.RunMode,
		Allure:   allureClient,
		Renderer: renderer,
	}
	return runner, nil
}

func (r *RunnerBase) Initialize() error {
	logger.Info("Initializing runner: starting...")

	if r.Allure == nil || r.Renderer == nil || r.Options.Action == nil {
		return fmt.Errorf("allure client, renderer and action are required")
	}

	logger.Info("Initialize runner: done.")
	return nil
}

func (r *RunnerBase) Process() error {
	return r.process(nil)
}

// process runs collect, upload and generate, then publish when given.
// Once results have been collected, cleanup runs whatever happens later.
func (r *RunnerBase) process(publish publishFunc) error {
	logger.Info("Process: starting...")
	ctx, span := trace.StartSpan(r.Context, "run")
	defer span.End()

	cfg := r.Options.Config
	data := &models.ReportData{
		ProjectID:     cfg.ProjectID,
		ExecutionName: cfg.ExecutionName(),
		ExecutionFrom: cfg.ExecutionFrom(),
		Timestamp:     time.Now().UTC(),
		Comment:       models.CommentResult{Action: models.CommentNone},
	}

	payload, err := r.collect(ctx, data)
	if err != nil {
		return err
	}

	runErr := r.report(ctx, data, payload, publish)
	r.clean(ctx, data)

	if err := r.Output(data); err != nil && runErr == nil {
		runErr = err
	}

	logger.Info("Process: done.")
	return runErr
}

func (r *RunnerBase) report(ctx context.Context, data *models.ReportData, payload []byte, publish publishFunc) error {
	if err := r.upload(ctx, data, payload); err != nil {
		return err
	}
	if err := r.generate(ctx, data, payload); err != nil {
		return err
	}
	if publish != nil {
		if err := publish(ctx, data); err != nil {
			return err
		}
	}

	fmt.Fprintln(r.Options.Stdout, data.ReportURL)
	return nil
}

func (r *RunnerBase) collect(ctx context.Context, data *models.ReportData) ([]byte, error) {
	var payload []byte
	err := trace.Step(ctx, "collect", func(context.Context) error {
		dir := r.Options.Config.ResultsPath()
		logger.WithField("dir", dir).Info("Collecting result files")

		var (
			count int
			err   error
		)
		payload, count, err = artifacts.BuildPayload(dir)
		if err != nil {
			return errors.Wrap(err, "failed to collect results")
		}
		data.FileCount = count
		return nil
	})
	return payload, err
}

// upload failures only abort the run in strict mode
func (r *RunnerBase) upload(ctx context.Context, data *models.ReportData, payload []byte) error {
	return trace.Step(ctx, "upload", func(ctx context.Context) error {
		msg, err := r.Allure.SendResults(ctx, r.Options.Config.ProjectID, payload)
		if err != nil {
			return r.softFail(data, "upload", errors.Wrap(err, "failed to upload results"))
		}
		data.UploadMessage = msg
		return nil
	})
}

// generate failures always abort the run: without a URL there is nothing to post
func (r *RunnerBase) generate(ctx context.Context, data *models.ReportData, payload []byte) error {
	return trace.Step(ctx, "generate", func(ctx context.Context) error {
		cfg := r.Options.Config
		url, err := r.Allure.GenerateReport(ctx, allure.GenerateOptions{
			ProjectID:     cfg.ProjectID,
			ExecutionName: cfg.ExecutionName(),
			ExecutionFrom: cfg.ExecutionFrom(),
			ExecutionType: allure.ExecutionType,
		}, payload)
		if err != nil {
			return errors.Wrap(err, "failed to generate report")
		}
		data.ReportURL = url
		return nil
	})
}

// clean never fails the run
func (r *RunnerBase) clean(ctx context.Context, data *models.ReportData) {
	_ = trace.Step(ctx, "clean", func(ctx context.Context) error {
		msg, err := r.Allure.CleanResults(ctx, r.Options.Config.ProjectID)
		if err != nil {
			r.warn(data, "clean", errors.Wrap(err, "failed to clean results"))
			return err
		}
		data.CleanMessage = msg
		return nil
	})
}

// softFail returns err in strict mode, otherwise records it as a warning
func (r *RunnerBase) softFail(data *models.ReportData, step string, err error) error {
	if r.Options.Config.Strict {
		return err
	}
	r.warn(data, step, err)
	return nil
}

func (r *RunnerBase) warn(data *models.ReportData, step string, err error) {
	logger.WithField("step", step).WithField("error", err).Warn("Step failed, continuing")
	r.Options.Action.Warningf("%s", err.Error())
	if data.Warnings == nil {
		data.Warnings = map[string]string{}
	}
	data.Warnings[step] = err.Error()
}

func (r *RunnerBase) Output(data *models.ReportData) error {
	logger.Info("Output: starting...")
	if data.ReportURL != "" && r.Options.Action.Getenv("GITHUB_OUTPUT") != "" {
		r.Options.Action.SetOutput("report_url", data.ReportURL)
	}
	if err := r.outputReportJson(data); err != nil {
		return err
	}
	logger.Info("Output: done.")
	return nil
}

// Exporting report json file to output directory if enabled
func (r *RunnerBase) outputReportJson(data *models.ReportData) error {
	outputDir := r.Options.Config.OutputDir
	if outputDir == "" {
		logger.Debug("OutputJson: no output directory configured")
		return nil
	}

	resultsJson, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal report data")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	filePath := filepath.Join(outputDir, reportFileName)
	if err := os.WriteFile(filePath, resultsJson, 0644); err != nil {
		logger.WithField("filePath", filePath).WithField("error", err).Error("Failed to write report data to file")
		return errors.Wrap(err, "failed to write report data")
	}
	logger.WithField("filePath", filePath).Info("Written report data to file")
	return nil
}
