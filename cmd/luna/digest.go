package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lunabot/luna/internal/adapter"

	"github.com/spf13/cobra"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print today's digest to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(adapter.NewNull())
		if err != nil {
			return err
		}
		defer comps.sched.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fmt.Println(comps.digest.Build(ctx))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(digestCmd)
}
