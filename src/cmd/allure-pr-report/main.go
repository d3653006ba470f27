package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sethvargo/go-githubactions"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gh-nvat/allure-pr-report/src/pkg/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type options struct {
	configFile string
	envFile    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// execute runs the root command and returns the process exit code.
// Everything, including the final ::error:: line, is written to stdout.
func execute(ctx context.Context, args []string, stdout io.Writer) int {
	log.SetOutput(stdout)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	action := githubactions.New(githubactions.WithWriter(stdout))

	cmd := newRootCmd(action, stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stdout)

	if err := cmd.ExecuteContext(ctx); err != nil {
		action.Errorf("%s", err.Error())
		return 1
	}
	return 0
}

func newRootCmd(action *githubactions.Action, stdout io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "allure-pr-report",
		Short: "Publish Allure test reports to GitHub pull requests",
		Long: `allure-pr-report uploads test results to an Allure docker service, generates a report,
and posts or updates a pull request comment linking to it.
Inputs are read from INPUT_* environment variables as set by GitHub Actions, or from flags.`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, action, stdout)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "YAML file with default settings")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before reading INPUT_* variables")
	config.RegisterFlags(cmd.Flags())

	return cmd
}
