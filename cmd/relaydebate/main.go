package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentworkforce/relaydebate/internal/config"
	"github.com/agentworkforce/relaydebate/internal/debate"
	"github.com/agentworkforce/relaydebate/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:          "relaydebate",
		Short:        "Turn-based debate arbitration server",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.initConfig()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ~/.relaydebate/relaydebate.yaml or ./relaydebate.yaml)")
	cmd.PersistentFlags().String("dsn", "", "store DSN: path, sqlite://, memory:// or postgres://")
	cmd.PersistentFlags().String("log-mode", "", "logging mode: development or production")
	_ = opts.v.BindPFlag("store.dsn", cmd.PersistentFlags().Lookup("dsn"))
	_ = opts.v.BindPFlag("logging.mode", cmd.PersistentFlags().Lookup("log-mode"))

	cmd.AddCommand(
		newServeCommand(opts),
		newRepairCommand(opts),
		newShowCommand(opts),
		newWatchCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func (o *rootOptions) initConfig() error {
	config.SetDefaults(o.v)
	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			o.v.AddConfigPath(filepath.Join(home, ".relaydebate"))
		}
		o.v.AddConfigPath(".")
		o.v.SetConfigName("relaydebate")
		o.v.SetConfigType("yaml")
	}
	if err := o.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (o *rootOptions) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.v)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(strings.ToLower(cfg.Logging.Mode))
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func newService(cfg *config.Config, store debate.Store, log *logging.Logger) *debate.Service {
	return debate.NewService(store, debate.NewCoordinator(), debate.ServiceOptions{
		MaxContentLength: cfg.Debate.MaxContentLength,
		PollTimeout:      cfg.Debate.PollTimeout,
		Retry: debate.RetryPolicy{
			MaxRetries: cfg.Store.BusyMaxRetries,
			BaseDelay:  cfg.Store.BusyBaseDelay,
		},
		Logger: log,
	})
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "relaydebate", version)
		},
	}
}
