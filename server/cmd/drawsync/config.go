package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"drawsync/server/internal/config"
)

func newConfigCmd() *cobra.Command {
	var write string
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration, or write it to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if write != "" {
				if err := config.WriteDefault(write, force); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", write)
				return nil
			}
			data, err := config.MarshalDefault()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "write the default config to this path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
