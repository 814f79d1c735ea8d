// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lagunalabs/tidewarden/services/decision"
	"github.com/lagunalabs/tidewarden/services/store"
)

// openStore resolves the store path from the --store flag or the
// daemon's environment variable. The daemon must not be running: badger
// holds an exclusive directory lock.
func openStore() (*store.Store, error) {
	path := storePath
	if path == "" {
		path = os.Getenv("TIDEWARDEN_STORE_PATH")
	}
	if path == "" {
		path = "/var/lib/tidewarden/decisions"
	}
	return store.Open(store.DefaultConfig(path))
}

func runReport(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open decision store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -reportDays)
	report, err := st.Report(context.Background(), from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report generation failed: %v\n", err)
		os.Exit(1)
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("--- Tidewarden Cost Report (%d days) ---\n", reportDays)
	fmt.Printf("Cycles recorded:   %d\n", report.Cycles)
	for _, tier := range []decision.Tier{decision.TierRuleBased, decision.TierLocal, decision.TierCloud} {
		if n, ok := report.ByTier[tier]; ok {
			fmt.Printf("  settled by %-10s %d\n", tier+":", n)
		}
	}
	fmt.Printf("Degraded cycles:   %d\n", report.Degraded)
	fmt.Printf("Actions executed:  %d (%d failed)\n", report.ActionsExecuted, report.ActionsFailed)
	fmt.Printf("Safety vetoes:     %d\n", report.SafetyVetoes)
	fmt.Printf("Queued for human:  %d\n", report.Confirmations)
	fmt.Printf("Total spend:       $%.4f\n", report.TotalCostUSD)
	fmt.Println()
	for _, day := range report.Days {
		fmt.Printf("%s  cycles=%-4d cloud=%-3d issues=%-4d $%.4f\n",
			day.Date, day.Cycles, day.CloudCalls, day.Issues, day.TotalCostUSD)
	}
}

func runAudit(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open decision store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if auditFrom != "" {
		if from, err = time.Parse(time.RFC3339, auditFrom); err != nil {
			fmt.Fprintf(os.Stderr, "bad --from timestamp: %v\n", err)
			os.Exit(1)
		}
	}
	if auditTo != "" {
		if to, err = time.Parse(time.RFC3339, auditTo); err != nil {
			fmt.Fprintf(os.Stderr, "bad --to timestamp: %v\n", err)
			os.Exit(1)
		}
	}

	var records []store.DecisionRecord
	if auditTier != "" {
		records, err = st.ByTier(context.Background(), decision.Tier(auditTier), from, to)
	} else {
		records, err = st.Range(context.Background(), from, to)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit read failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "%d records\n", len(records))
}
