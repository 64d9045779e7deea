package main

import (
	"fmt"
	"os"

	"github.com/lunabot/luna/internal/config"
	"github.com/lunabot/luna/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "luna",
	Short: "Luna personal assistant",
	Long:  `Luna is a personal assistant that lives in your chat app: memory, reminders, digests, and an LLM brain.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.luna/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("workspaces.default", config.DefaultWorkspace, "workspace to start in")
}
