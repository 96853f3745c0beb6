package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sigreer/backuppc-clone/internal/backupclone"
)

var backupCloneCmd = &cobra.Command{
	Use:   "backup-clone <host> <number>",
	Short: "Clone one (host, backup number) tree",
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

		cloner := backupclone.New(cat, cfg.OriginalLayout(), cfg.Layout(), log)
		return cloner.Clone(context.Background(), args[0], number)
	},
}
