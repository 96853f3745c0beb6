package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var backupDeleteCmd = &cobra.Command{
	Use:   "backup-delete <host> <number>",
	Short: "Delete one backup's catalog rows and clone tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		ctx := context.Background()
		hostID, err := cat.HostEnsure(ctx, args[0])
		if err != nil {
			return err
		}
		backupID, err := cat.BackupEnsure(ctx, hostID, number)
		if err != nil {
			return err
		}

		dir := filepath.Join(cfg.Layout().PC, args[0], fmt.Sprintf("%d", number))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove backup dir %s: %w", dir, err)
		}
		return cat.BackupDeleteCascade(ctx, backupID)
	},
}
