package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigreer/backuppc-clone/internal/orchestrator"
)

// staleAfter marks a status.json older than this as no longer trustworthy
// (the orchestration loop has likely stopped running).
const staleAfter = 2 * time.Hour

var nagiosCmd = &cobra.Command{
	Use:   "nagios",
	Short: "Print a Nagios-plugin-style status line and exit with its code",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := statusPath()
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Println("UNKNOWN: status.json not found:", path)
			os.Exit(3)
		}

		var status orchestrator.Status
		if err := json.Unmarshal(data, &status); err != nil {
			fmt.Println("UNKNOWN: status.json unreadable:", err)
			os.Exit(3)
		}

		age := time.Since(time.Unix(status.LastRunUnix, 0))
		if age > staleAfter {
			fmt.Printf("CRITICAL: last run %s ago (stale)\n", age.Round(time.Second))
			os.Exit(2)
		}
		if status.LastError != "" {
			fmt.Printf("CRITICAL: %s\n", status.LastError)
			os.Exit(2)
		}

		fmt.Printf("OK: cloned=%d removed=%d hosts_removed=%d aux_copied=%d aux_deleted=%d | cloned=%d;;;; removed=%d;;;;\n",
			status.BackupsCloned, status.BackupsRemoved, status.HostsRemoved, status.AuxCopied, status.AuxDeleted,
			status.BackupsCloned, status.BackupsRemoved)
		os.Exit(0)
		return nil
	},
}
