package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/sigreer/backuppc-clone/internal/orchestrator"
)

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Run the orchestration loop until there is no more work",
	Long: `auto repeatedly reconciles the catalog, picks the next backup to
clone, syncs the pool when needed, and clones it, until no backups remain
to process. It finishes with an auxiliary mirror pass.

With --process-isolation, each loop iteration runs in a freshly
re-executed child process instead of reusing the parent's memory arena,
mirroring the original implementation's fork-per-iteration containment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		iteration, _ := cmd.Flags().GetBool("iteration")
		processIsolation, _ := cmd.Flags().GetBool("process-isolation")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		orch := orchestrator.New(cat, cfg, statusPath(), log)
		ctx := context.Background()

		if iteration {
			more, err := orch.RunOnePass(ctx)
			if err != nil {
				return err
			}
			if !more {
				os.Exit(1)
			}
			return nil
		}

		if processIsolation {
			return runIterationsByReexec()
		}

		return orch.Run(ctx)
	},
}

func init() {
	autoCmd.Flags().Bool("iteration", false, "run exactly one pass, exit 0 if more work remains, 1 if done (internal, used by --process-isolation)")
	autoCmd.Flags().Bool("process-isolation", false, "re-exec a child process per iteration instead of looping in-process")
}

// runIterationsByReexec repeatedly spawns `backuppc-clone auto --iteration`
// as a child process and waits for it, giving each iteration its own
// process memory space rather than an in-process arena reset. Exit code 0
// means the child picked a backup (cloned it, or rolled it back after a
// recoverable failure) and more work may remain; 1 means the
// child found no work and the loop should stop; anything else is an
// error.
func runIterationsByReexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}

	for {
		c := exec.Command(exe, "--config", cfgFile, "auto", "--iteration")
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		err := c.Run()
		if err == nil {
			continue
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("iteration child process: %w", err)
	}
}
