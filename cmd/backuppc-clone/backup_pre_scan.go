package main

import (
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sigreer/backuppc-clone/internal/backupscan"
)

var backupPreScanCmd = &cobra.Command{
	Use:   "backup-pre-scan <host> <number>",
	Short: "Write the backuppc-clone.csv pre-scan artifact for one backup",
	Long: `backup-pre-scan walks one backup's directory tree on the original and
writes backuppc-clone.csv inside it, so a later backup-clone run can skip
re-walking the tree.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		scanner := backupscan.New(log)
		dir := filepath.Join(cfg.OriginalLayout().PC, args[0], strconv.Itoa(number))
		return scanner.PreScan(dir)
	},
}
