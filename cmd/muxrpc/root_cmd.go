package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"muxrpc/config"
)

type rootOpts struct {
	configPath string
	logLevel   string

	config *config.Config
	logger *zap.Logger
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
muxrpc serves and issues calls over a single multiplexed connection.

Workflow:
  muxrpc serve --listen :7070 --http-listen :7071   # Serve the demo services.
  muxrpc call Arith Add '{"A":1,"B":2}'              # Call a method with JSON arguments.
  muxrpc call --ws ws://localhost:7071/_rpc_ Echo echo_i32 42
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "muxrpc",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(
		newServe(opts).Command(),
		newCall(opts).Command(),
	)
	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	if opts.configPath == "" {
		cfg.LogLevel = opts.logLevel
	}
	overrideString(cmd.Flags(), "log-level", &cfg.LogLevel)
	level, err := cfg.Level()
	if err != nil {
		return newUsageError(err.Error())
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return err
	}
	opts.config = cfg
	opts.logger = logger
	return nil
}

// overrideString copies flag name over *dst when it was given on the command line.
func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if flags.Changed(name) {
		*dst, _ = flags.GetString(name)
	}
}

func overrideDuration(flags *pflag.FlagSet, name string, dst *time.Duration) {
	if flags.Changed(name) {
		*dst, _ = flags.GetDuration(name)
	}
}
