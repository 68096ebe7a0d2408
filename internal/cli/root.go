// Package cli implements the storyjobs command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jonwraymond/storyjobs/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "storyjobs",
	Short:        "Background jobs for story generation, narration and publishing",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/storyjobs/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./storyjobs.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	bindFlag("observe.logging.level", rootCmd.PersistentFlags(), "log-level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newInitCmd(defaultYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if err := readConfig(viper.GetViper(), cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "error reading config file:", err)
		os.Exit(1)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(os.Stderr, "config:", used)
	}
}

// readConfig points v at path, or at the standard search locations when path
// is empty, and reads it. A missing file in the search locations is not an
// error; defaults and environment still apply.
func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("storyjobs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.storyjobs")
		}
		v.AddConfigPath("/etc/storyjobs")
	}
	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || (path == "" && os.IsNotExist(err)) {
			return nil
		}
		return err
	}
	return nil
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
