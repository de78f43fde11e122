package main

import (
	"github.com/spf13/cobra"

	"github.com/spooni01/ha-automation-of-todo/internal/conf"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "localtodo",
		Short:         "Create to-do items when watched entities change state",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to the YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRulesCmd(opts))
	cmd.AddCommand(newRemoveCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return settings, log, nil
}
