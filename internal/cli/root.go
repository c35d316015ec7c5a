// Package cli implements the oi command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oi-sh/oi/internal/config"
)

var (
	cfgFile string
	baseURL string
	verbose bool
	jsonOut bool
)

// ErrPartialFailure marks a run that finished with some tasks failed or
// skipped. The entry point maps it to a distinct exit code.
var ErrPartialFailure = errors.New("some tasks did not complete")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oi",
	Short: "Multi-agent software engineering orchestrator",
	Long: `oi decomposes a goal into a dependency-ordered task plan, runs one
remote agent per task with bounded parallelism, and integrates the
resulting branches into a single pull request.

Quick start:
  oi run "Add rate limiting" --repo acme/api     Plan, execute, integrate
  oi plan "Add rate limiting" --repo acme/api    Generate a plan only
  oi projects                                    List stored projects
  oi status <id>                                 Inspect one project`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .oi/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "control-plane base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newProjectsCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initViper reads in config file and ENV variables if set.
func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.OiDir)
		viper.AddConfigPath("$HOME/" + config.OiDir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("OI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig builds the effective configuration for a command, applying the
// persistent flag overrides on top of the layered file/env load.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
