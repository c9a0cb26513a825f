// Package cmd defines the chatbycard command-line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chatbycard/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "chatbycard",
	Short: "Document-grounded AI chat with agent workflows",
	Long: `Chatbycard is a terminal client for the chatbycard backend: ask an
AI agent questions about referenced documents, follow the processing
steps as they happen, and run multi-node agent workflows whose nodes
feed their output into each other.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/chatbycard/config.yaml)")
	rootCmd.PersistentFlags().String("base-url", "", "backend base URL (overrides service.base_url)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("service.base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CHATBYCARD")
	// Replace dots with underscores for nested keys in env vars
	// e.g., CHATBYCARD_SERVICE_BASE_URL for service.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
