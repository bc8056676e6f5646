package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rahul/tabletalk/internal/agent"
)

func newAskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and exit",
		Example: `  tabletalk ask --data sales.csv "What was the total revenue in March?"
  tabletalk ask --data sales.xlsx "Plot revenue by region"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := c.zapFor(cmd, "warn")
			if err != nil {
				return err
			}
			a, err := c.newApp(cmd, z)
			if err != nil {
				return err
			}
			defer a.Close()

			question := strings.Join(args, " ")
			errOut := cmd.ErrOrStderr()
			res := a.orchestrator.Run(cmd.Context(), agent.Request{
				ChatID:   "cli",
				Question: question,
				Observer: func(e agent.Event) {
					switch e.Kind {
					case agent.EventAnswer, agent.EventFailed, agent.EventChart:
					case agent.EventAttemptFailed:
						if c.verbose {
							fmt.Fprintf(errOut, "%s\n  %s\n", e.Message(), e.Query)
						}
					default:
						if c.verbose {
							fmt.Fprintln(errOut, e.Message())
						}
					}
				},
			})

			turn := res.Turn
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, turn.Answer)
			if turn.Chart != "" {
				fmt.Fprintf(out, "\nChart: %s\n", turn.Chart)
			}
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if turn.Failed() {
				return errors.New("question not answered")
			}
			return nil
		},
	}
}
