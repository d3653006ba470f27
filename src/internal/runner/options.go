package runner

import (
	"io"

	"github.com/gh-nvat/allure-pr-report/src/pkg/config"
	"github.com/sethvargo/go-githubactions"
)

type Options struct {
	Config *config.ActionConfig

	// Action issues workflow commands (::warning::) and step outputs
	Action *githubactions.Action

	// Stdout receives the report URL
	Stdout io.Writer
}
