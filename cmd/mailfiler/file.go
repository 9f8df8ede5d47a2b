package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/infodancer/mailfiler/message"
)

func fileCmd(a *app) *cobra.Command {
	var (
		rulesPath string
		source    string
	)
	cmd := &cobra.Command{
		Use:   "file [message]",
		Short: "File a single message read from a file or stdin",
		Long: `File one message by a rule file and report where it went. The message is
read from the named file, or from stdin. The command fails unless every
target succeeded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var r io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			msg, err := message.Parse(r)
			if err != nil {
				return err
			}

			db := a.optionalGroups(ctx)
			rs, err := a.loadRules(ctx, a.rulesPath(rulesPath), db)
			if err != nil {
				return err
			}
			f, err := a.filer(db)
			if err != nil {
				return err
			}

			o := f.File(ctx, rs, msg, source)
			out := cmd.OutOrStdout()
			for _, res := range o.Results {
				status := "OK"
				if !res.Delivered {
					status = "FAIL"
				}
				dest := res.Path
				if dest == "" {
					dest = res.Delivery.Dest
				}
				if res.Err != nil {
					fmt.Fprintf(out, "%s %s %s: %v\n", status, res.Delivery.Kind, dest, res.Err)
				} else {
					fmt.Fprintf(out, "%s %s %s\n", status, res.Delivery.Kind, dest)
				}
			}
			for _, err := range o.ActionErrors {
				a.logger.Warn("action failed", slog.String("error", err.Error()))
			}
			if !o.AllDelivered {
				if o.Err != nil {
					return o.Err
				}
				return fmt.Errorf("message %s not filed", o.MessageID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rulesPath, "rules", "R", "", "rule file (default $MAILDIR/.rules)")
	cmd.Flags().StringVar(&source, "source", "", "folder the message is treated as coming from")
	return cmd
}
