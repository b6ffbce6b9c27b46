package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/openzfs-go/storageengine/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the tunables storagectl loaded for this invocation",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active tunables (defaults layered with --config and env) as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tunables, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		out, err := yaml.Marshal(tunables)
		if err != nil {
			return err
		}

		fmt.Print(string(out))
		return nil
	},
}
