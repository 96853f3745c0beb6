package main

import (
	"github.com/spf13/cobra"

	"github.com/sigreer/backuppc-clone/internal/auxmirror"
)

var syncAuxiliaryCmd = &cobra.Command{
	Use:   "sync-auxiliary",
	Short: "Mirror the flat files directly under each host directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		mirror := auxmirror.New(cfg.OriginalLayout(), cfg.Layout(), log)
		copied, deleted, err := mirror.Run()
		if err != nil {
			return err
		}
		log.WithFields(map[string]any{"copied": copied, "deleted": deleted}).Info("auxiliary mirror complete")
		return nil
	},
}
