package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect build storage",
	}
	cmd.AddCommand(newStorageSelectCmd())
	return cmd
}

func newStorageSelectCmd() *cobra.Command {
	var (
		configPath string
		minFreeGB  int
	)

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Run drive selection and print the chosen storage root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if minFreeGB > 0 {
				cfg.Storage.MinimumFreeGB = minFreeGB
			}
			// A forced root short-circuits selection, same as serve.
			root, err := chooseRoot(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected root: %s\n", root.Dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "modelviewer.yaml", "path to config file")
	cmd.Flags().IntVar(&minFreeGB, "min-free-gb", 0, "minimum free space requirement (overrides config)")
	return cmd
}
