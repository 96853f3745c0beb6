package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCloneCmd = &cobra.Command{
	Use:   "init-clone",
	Short: "Create the clone's directory layout and catalog database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cloneConfigOnly()
		if err != nil {
			return err
		}
		layout := cfg.Layout()

		for _, dir := range []string{layout.Pool, layout.CPool, layout.PC, layout.Tmp, layout.Trash, layout.Etc} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}

		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		log.WithField("top", layout.Top).Info("initialized clone layout and catalog")
		return nil
	},
}
