package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/infodancer/mailfiler/message"
)

func groupsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Inspect and edit address groups",
		Long:  "Address groups live in the group database ($MAILDB) and are named in rule conditions such as from:FRIENDS.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.groups(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := db.Groups(cmd.Context())
			if err != nil {
				return err
			}
			for _, g := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", g.Name, g.Members)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <group>",
		Short: "List the members of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.groups(cmd.Context())
			if err != nil {
				return err
			}
			members, err := db.Members(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range members {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <group> <address...>",
		Short: "Add addresses to a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args[1:])
			if err != nil {
				return err
			}
			db, err := a.groups(cmd.Context())
			if err != nil {
				return err
			}
			return db.AddToGroup(cmd.Context(), args[0], addrs...)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <group> <address...>",
		Short: "Remove addresses from a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args[1:])
			if err != nil {
				return err
			}
			db, err := a.groups(cmd.Context())
			if err != nil {
				return err
			}
			return db.RemoveFromGroup(cmd.Context(), args[0], addrs...)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <group>",
		Short: "Delete a group and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.groups(cmd.Context())
			if err != nil {
				return err
			}
			return db.DeleteGroup(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "of <address>",
		Short: "List the groups an address belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := message.ParseCoreAddress(args[0])
			if err != nil {
				return err
			}
			db, err := a.groups(cmd.Context())
			if err != nil {
				return err
			}
			names, err := db.GroupsOf(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, " "))
			return nil
		},
	})

	return cmd
}

func parseAddresses(args []string) ([]message.CoreAddress, error) {
	addrs := make([]message.CoreAddress, 0, len(args))
	for _, arg := range args {
		a, err := message.ParseCoreAddress(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}
