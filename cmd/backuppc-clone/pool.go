package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sigreer/backuppc-clone/internal/poolsync"
)

var poolSyncCmd = &cobra.Command{
	Use:   "pool",
	Short: "Run one pool synchronization pass",
	Long: `pool reconciles the clone pool against what is physically
present, diffs the original pool into the catalog, garbage-collects clone
files the original no longer has, and records the sync time.`,
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

		syncer := poolsync.New(cat, cfg.OriginalLayout(), cfg.Layout(), log)
		return syncer.Synchronize(context.Background())
	},
}
