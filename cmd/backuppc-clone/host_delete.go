package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var hostDeleteCmd = &cobra.Command{
	Use:   "host-delete <host>",
	Short: "Delete a host's catalog rows and clone tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		dir := filepath.Join(cfg.Layout().PC, args[0])
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove host dir %s: %w", dir, err)
		}
		return cat.HostDeleteCascade(context.Background(), args[0])
	},
}
