// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	reportDays int
	reportJSON bool
	verifyJSON bool
	auditTier  string
	auditFrom  string
	auditTo    string
	storePath  string

	rootCmd = &cobra.Command{
		Use:   "tidewarden",
		Short: "A tiered decision watcher for pool and spa automation",
		Long: `Tidewarden watches a pool controller through periodic snapshots,
				detects anomalies, and fixes them through an escalating chain of
				deciders: a free rule table, a local model, and a cloud model.
				Every action passes a safety validator and an execution gate
				before it reaches the equipment.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the watcher daemon and its operator API",
		Long: `Starts the decision cycle against the controller named by
				TIDEWARDEN_CONTROLLER_URL and serves the operator API. All
				configuration comes from TIDEWARDEN_* environment variables.`,
		Run: runWatcher, // Defined in cmd_run.go
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Print a per-day cycle and cost report from the decision store",
		Run:   runReport, // Defined in cmd_report.go
	}

	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Print decision records from the store",
		Run:   runAudit, // Defined in cmd_report.go
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the embedded policy files",
		Long: `Calculates the checksums of the compiled-in action whitelist and
				expected-state table. Use this to verify that the binary is
				running the expected revision of its policies.`,
		Run: runVerify, // Defined in cmd_verify.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "Number of trailing days to report")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Output machine-readable JSON")
	reportCmd.Flags().StringVar(&storePath, "store", "", "Decision store path (defaults to TIDEWARDEN_STORE_PATH)")

	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&auditTier, "tier", "", "Only records settled by this tier (RULE_BASED, LOCAL, CLOUD)")
	auditCmd.Flags().StringVar(&auditFrom, "from", "", "Window start, RFC3339 (default 24h ago)")
	auditCmd.Flags().StringVar(&auditTo, "to", "", "Window end, RFC3339 (default now)")
	auditCmd.Flags().StringVar(&storePath, "store", "", "Decision store path (defaults to TIDEWARDEN_STORE_PATH)")

	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Output machine-readable JSON")
}
