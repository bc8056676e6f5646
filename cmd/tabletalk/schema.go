package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rahul/tabletalk/internal/dataset"
)

func newSchemaCmd(c *cli) *cobra.Command {
	var rows int
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the table the data file loads into",
		Long:  `Print the CREATE TABLE description the model is given, followed by the first rows.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.App.DataFile == "" {
				return errors.New("no data file: pass --data or set app.data_file")
			}
			ds, err := dataset.Load(c.cfg.App.DataFile, c.cfg.App.TableName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ds.Schema)
			fmt.Fprintf(out, "\n%d rows\n", len(ds.Table.Rows))
			if rows > 0 && len(ds.Table.Rows) > 0 {
				fmt.Fprintf(out, "\n%s\n", ds.Table.Head(rows).Markdown())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 5, "sample rows to print")
	return cmd
}
