package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/MarcoPoloResearchLab/wpsync/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "wpsync",
		Short:        "Import feed content into WordPress sites idempotently",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newSitesCommand(),
		newSyncCommand(),
		newStatsCommand(),
		newLogsCommand(),
		newServeCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite ledger path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (console, json)")
	cmd.PersistentFlags().Int("workers", defaults.GetInt("sync.workers"), "Concurrent sync workers")
	cmd.PersistentFlags().StringSlice("proxy", nil, "Proxy endpoint, repeatable (http, https or socks5)")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "sync.workers", "workers")
	bindFlag(cmd, "proxy.endpoints", "proxy")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// bindLocalFlags binds command-local flags that only override viper when set explicitly.
// Binding happens at run time because several commands share a key.
func bindLocalFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("wpsync")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
