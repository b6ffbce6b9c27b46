package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openzfs-go/storageengine/pkg/config"
	"github.com/openzfs-go/storageengine/pkg/elog"
)

var log elog.View

var (
	flagVerbose bool
	flagDebug   bool
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "storagectl",
	Short: "Inspect and drive the storage engine's TRIM, ZVOL and key-wrap demos",
	Long: `storagectl is a reference command-line front end for this module's
TRIM engine, ZVOL block-device personality and block encryption key
management. It operates against an in-process demo pool substrate built at
startup, standing in for a real DMU/SPA binding.`,
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a storageengine config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)
		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger

		tunables, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		dm, err := buildDemo(tunables)
		if err != nil {
			return fmt.Errorf("build demo pool: %w", err)
		}
		d = dm
		return nil
	}

	trimFlags.rate.AddTo(trimStartCmd.Flags())
	trimFlags.partial.AddTo(trimStartCmd.Flags())
	trimFlags.secure.AddTo(trimStartCmd.Flags())

	zvolFlags.pattern.AddTo(zvolCreateMinorsCmd.Flags())
	zvolFlags.inhibit.AddTo(zvolCreateMinorsCmd.Flags())

	zvolRemoveFlags.pattern.AddTo(zvolRemoveMinorsCmd.Flags())

	zvolSetFlags.dataset.AddTo(zvolSetCmd.Flags())
	zvolSetFlags.property.AddTo(zvolSetCmd.Flags())
	zvolSetFlags.value.AddTo(zvolSetCmd.Flags())

	keyFlags.suite.AddTo(keyWrapCmd.Flags())
	keyFlags.key.AddTo(keyWrapCmd.Flags())
	keyFlags.wrappingKey.AddTo(keyWrapCmd.Flags())

	keyFlags.wrappedBlob.AddTo(keyUnwrapCmd.Flags())
	keyFlags.wrappingKey.AddTo(keyUnwrapCmd.Flags())

	rootCmd.AddCommand(trimCmd)
	trimCmd.AddCommand(trimStartCmd)
	trimCmd.AddCommand(trimStopCmd)
	trimCmd.AddCommand(trimStatusCmd)

	rootCmd.AddCommand(zvolCmd)
	zvolCmd.AddCommand(zvolCreateMinorsCmd)
	zvolCmd.AddCommand(zvolRemoveMinorsCmd)
	zvolCmd.AddCommand(zvolSetCmd)

	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyWrapCmd)
	keyCmd.AddCommand(keyUnwrapCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}
