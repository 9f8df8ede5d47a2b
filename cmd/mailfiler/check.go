package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func checkCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "check [rules]",
		Short: "Load a rule file and print the parsed rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			rs, err := a.loadRules(ctx, a.rulesPath(path), a.optionalGroups(ctx))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !quiet {
				for _, r := range rs.Rules {
					fmt.Fprintf(out, "%s:%d: %s\n", r.File, r.Line, r)
				}
			}
			fmt.Fprintf(out, "%d rules from %d files, %d groups\n", len(rs.Rules), len(rs.Files), len(rs.Groups))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the summary")
	return cmd
}
