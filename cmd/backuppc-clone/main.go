// Command backuppc-clone keeps a second copy of a BackupPC pool and
// backup tree, reachable independently of the original server, in sync
// via a relational metadata catalog. See clone.cfg for the original and
// clone locations this binary coordinates between.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sigreer/backuppc-clone/internal/catalog"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
)

var (
	cfgFile string
	verbose bool
)

var log = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "backuppc-clone",
	Short: "Keep a second copy of a BackupPC pool and backup tree in sync",
	Long: `backuppc-clone mirrors an original BackupPC installation's pool and
numbered backup trees onto a second filesystem, tracking identity through
a relational catalog rather than by re-hashing file content.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
		if cmd.Name() == "help" {
			return nil
		}
		if os.Geteuid() == 0 {
			return fmt.Errorf("refusing to run as root; run as the user that owns the clone tree")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "clone.cfg", "path to clone.cfg")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(autoCmd)
	rootCmd.AddCommand(poolSyncCmd)
	rootCmd.AddCommand(backupCloneCmd)
	rootCmd.AddCommand(backupDeleteCmd)
	rootCmd.AddCommand(hostDeleteCmd)
	rootCmd.AddCommand(backupPreScanCmd)
	rootCmd.AddCommand(syncAuxiliaryCmd)
	rootCmd.AddCommand(vacuumCmd)
	rootCmd.AddCommand(initOriginalCmd)
	rootCmd.AddCommand(initCloneCmd)
	rootCmd.AddCommand(nagiosCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cloneConfigOnly reads clone.cfg without checking identity, for the
// init-* commands that run before an identity block necessarily exists.
func cloneConfigOnly() (*cloneconfig.Config, error) {
	return cloneconfig.Load(cfgFile)
}

// loadConfig reads clone.cfg and checks the original/clone identity
// match before any sync-affecting command proceeds.
func loadConfig() (*cloneconfig.Config, error) {
	cfg, err := cloneconfig.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.CheckIdentity(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openCatalog opens (and migrates) the catalog database named in cfg.
func openCatalog(cfg *cloneconfig.Config) (*catalog.Catalog, error) {
	layout := cfg.Layout()
	return catalog.Open(layout.CatalogDB, catalog.Options{
		TmpDir:      layout.Tmp,
		CacheSizeKB: cfg.Clone.CacheSizeKB,
		Logger:      log,
	})
}

// statusPath returns where status.json is written, beside clone.cfg.
func statusPath() string {
	abs, err := filepath.Abs(cfgFile)
	if err != nil {
		return "status.json"
	}
	return filepath.Join(filepath.Dir(abs), "status.json")
}
