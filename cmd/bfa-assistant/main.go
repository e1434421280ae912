package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bfalabs/bfa-assistant/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "bfa-assistant",
	Short:         "Measurement assistant service and terminal client",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	_ = viper.BindPFlag("env_file", rootCmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd, chatCmd)
}

func initConfig() {
	viper.SetEnvPrefix("BFA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := config.LoadDotEnv(viper.GetString("env_file")); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
	}
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "bfa",
	})
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.Warn("unknown log level, using info", "level", level)
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
