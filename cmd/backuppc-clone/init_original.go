package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initOriginalCmd = &cobra.Command{
	Use:   "init-original",
	Short: "Register this clone's identity with the original's config file",
	Long: `init-original writes the "BackupPC Clone" identity block into the
original installation's config file, so CheckIdentity can later confirm
that clone.cfg and the original agree which clone it is.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cloneConfigOnly()
		if err != nil {
			return err
		}
		if cfg.Original.ConfigPath == "" {
			return fmt.Errorf("original.config_path is not set in %s", cfgFile)
		}

		doc := struct {
			BackupPCClone struct {
				Name string `yaml:"name"`
			} `yaml:"BackupPC Clone"`
		}{}
		doc.BackupPCClone.Name = cfg.Clone.Name

		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal original identity block: %w", err)
		}
		if err := os.WriteFile(cfg.Original.ConfigPath, data, 0o644); err != nil {
			return fmt.Errorf("write original config %s: %w", cfg.Original.ConfigPath, err)
		}
		log.WithField("path", cfg.Original.ConfigPath).Info("registered clone identity with original")
		return nil
	},
}
