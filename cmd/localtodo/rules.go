package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
)

func newRulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage stored rules",
	}
	cmd.AddCommand(newRulesListCmd(opts))
	cmd.AddCommand(newRulesAddCmd(opts))
	cmd.AddCommand(newRulesDeleteCmd(opts))
	cmd.AddCommand(newRulesClearCmd(opts))
	return cmd
}

// withStore opens the rule store for a single command.
func withStore(opts *rootOptions, fn func(*datastore.Store) error) error {
	settings, log, err := opts.load()
	if err != nil {
		return err
	}
	store, err := datastore.Open(settings.RulesDBPath(), datastore.Options{Log: log})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func newRulesListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(store *datastore.Store) error {
				rules, err := store.Rules().ListRules(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(rules)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tENTITY\tDESCRIPTION")
				for _, r := range rules {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, r.Name, r.EntityID, r.Description)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rules as JSON")
	return cmd
}

func newRulesAddCmd(opts *rootOptions) *cobra.Command {
	var rule entities.Rule
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(store *datastore.Store) error {
				if err := store.Rules().AddRule(cmd.Context(), &rule); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added rule %d\n", rule.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&rule.Name, "name", "", "to-do item and notification title")
	f.StringVar(&rule.Description, "description", "", "to-do item description and notification message")
	f.StringVar(&rule.EntityID, "entity", "", "entity id to watch")
	f.StringVar(&rule.EntityTypeOfChange, "change-type", "", "stored change type, not evaluated")
	f.StringVar(&rule.EntityChangeValue, "change-value", "", "stored change value, not evaluated")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func newRulesDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule id %q: %w", args[0], err)
			}
			return withStore(opts, func(store *datastore.Store) error {
				return store.Rules().DeleteRule(cmd.Context(), uint(id))
			})
		},
	}
}

func newRulesClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(store *datastore.Store) error {
				n, err := store.Rules().DeleteAllRules(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rules\n", n)
				return nil
			})
		},
	}
}
