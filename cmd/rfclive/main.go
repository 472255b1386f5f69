package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/dhamidi/rfclive/config"
)

var version = "0.1.0"

type globalOptions struct {
	configPath string
	verbose    int
	logFile    string
}

func (o *globalOptions) configureLogging() {
	var path *string
	if o.logFile != "" {
		path = &o.logFile
	}
	commonlog.Configure(o.verbose, path)
}

func (o *globalOptions) loadConfig() (config.Config, error) {
	return config.Load(o.configPath)
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:          "rfclive",
		Short:        "Live xml2rfc previews and diagnostics for RFC XML documents",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.configureLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default "+config.DefaultFile+")")
	rootCmd.PersistentFlags().CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")

	rootCmd.AddCommand(newLSPCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newCheckCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
