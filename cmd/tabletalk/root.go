package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rahul/tabletalk/pkg/config"
)

// cli carries what the persistent flags resolve to.
type cli struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "tabletalk",
		Short: "Ask questions about a spreadsheet in plain language",
		Long: `tabletalk loads a CSV or Excel file into an in-memory SQL table and answers
natural-language questions about it. Each question is routed, planned and run
as a sequence of SQL steps with self-correction, then summarised, optionally
with a chart.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default: ./tabletalk.yaml)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "show failed query attempts")

	// Data flags
	flags.StringP("data", "d", "", "CSV or Excel file to load")
	flags.String("table", "", "table name (default: the file name)")

	// Agent flags
	flags.Int("max-retries", 10, "retries per query step after the first attempt")
	flags.Int("history-window", 5, "prior conversation messages given to the model")
	flags.Int("max-rows", 100, "row cap per query result")
	flags.String("provider", "", "LLM provider to enable (openai, openrouter, ollama, anthropic)")
	flags.String("model", "", "model name for the enabled provider")

	// Chart flags
	flags.String("chart-dir", "charts", "directory charts are written to")
	flags.String("rasterizer", config.RasterizeVector, "chart rasterizer (vector, browser)")

	// Logging flags
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")

	_ = c.v.BindPFlag("app.data_file", flags.Lookup("data"))
	_ = c.v.BindPFlag("app.table_name", flags.Lookup("table"))
	_ = c.v.BindPFlag("agent.max_retries", flags.Lookup("max-retries"))
	_ = c.v.BindPFlag("agent.history_window", flags.Lookup("history-window"))
	_ = c.v.BindPFlag("agent.max_rows", flags.Lookup("max-rows"))
	_ = c.v.BindPFlag("chart.dir", flags.Lookup("chart-dir"))
	_ = c.v.BindPFlag("chart.rasterizer", flags.Lookup("rasterizer"))
	_ = c.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("logging.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		newChatCmd(c),
		newAskCmd(c),
		newSchemaCmd(c),
		newServeCmd(c),
	)
	return rootCmd
}

// providerOverride enables the provider named by --provider, and applies
// --model to whichever provider ends up the default.
func (c *cli) providerOverride(cmd *cobra.Command) {
	name, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	if name != "" {
		for n, p := range c.cfg.Providers {
			p.Enabled = n == name
			c.cfg.Providers[n] = p
		}
		p := c.cfg.Providers[name]
		p.Enabled = true
		if p.Model == "" {
			p.Model = config.DefaultModel
		}
		c.cfg.Providers[name] = p
	}
	if model != "" {
		if n, p := c.cfg.GetDefaultProvider(); n != "" {
			p.Model = model
			c.cfg.Providers[n] = p
		}
	}
}
