package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/lectorium/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a configuration file with every default value",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			filename = args[0]
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filename)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration and where it was loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		GetConfigLoader().PrintConfigInfo(out)
		_, _ = fmt.Fprintln(out)

		data, err := yaml.Marshal(redact(*cfg))
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		_, err = out.Write(data)
		return err
	},
}

// redact hides credentials from printed configurations.
func redact(cfg config.Config) config.Config {
	for _, key := range []*string{&cfg.Remote.Vision.APIKey, &cfg.Remote.Language.APIKey, &cfg.Cloud.Token} {
		if *key != "" {
			*key = "********"
		}
	}
	return cfg
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
