package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rahul/tabletalk/internal/console"
	"github.com/rahul/tabletalk/internal/observability"
)

func newChatCmd(c *cli) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive question session",
		Long: `Start an interactive session over the loaded table.

Type a question and press enter. /history shows the conversation so far,
/reset clears it, and exit or quit ends the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			z, err := c.zapFor(cmd, "warn")
			if err != nil {
				return err
			}
			a, err := c.newApp(cmd, z)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			opts := []console.Option{console.WithVerbose(c.verbose)}
			if plain || !observability.IsTerminal() {
				opts = append(opts, console.WithPlainOutput())
			} else {
				observability.PrintBanner(out)
			}
			con, err := console.New(a.orchestrator, cmd.InOrStdin(), out, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Loaded %s: %d rows, %d columns.\n\n", a.dataset.Name, len(a.dataset.Table.Rows), len(a.dataset.Table.Columns))
			if err := con.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "render answers without colour")
	return cmd
}
