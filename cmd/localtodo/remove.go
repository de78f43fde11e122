package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spooni01/ha-automation-of-todo/internal/conf"
	"github.com/spooni01/ha-automation-of-todo/internal/integration"
)

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Delete the rule store of this instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(opts.configFile)
			if err != nil {
				return err
			}
			if err := integration.Remove(settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", settings.RulesDBPath())
			return nil
		},
	}
}
