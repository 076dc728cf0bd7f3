package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/pipewatch/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	baseURL    string
	noColor    bool
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "pipewatch",
		Short:         "Follow a multi-agent workflow stream",
		Long:          "pipewatch consumes the event stream of an orchestration backend, folds it into pipeline state and answers human checkpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file (default ./pipewatch.yaml or $HOME/.pipewatch/pipewatch.yaml)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&g.baseURL, "backend", "", "backend base URL")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newWatchCommand(g),
		newServeCommand(g),
		newHistoryCommand(g),
	)
	return root
}

// load reads the configuration and applies flag overrides.
func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if g.baseURL != "" {
		cfg.Backend.BaseURL = g.baseURL
	}
	return cfg, cfg.Validate()
}
