// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lagunalabs/tidewarden/services/analyzer"
	"github.com/lagunalabs/tidewarden/services/gate"
)

// PolicyVerifyResult is the --json shape of the verify command.
type PolicyVerifyResult struct {
	WhitelistVersion  int    `json:"whitelist_version"`
	WhitelistChecksum string `json:"whitelist_checksum"`
	ExpectedVersion   int    `json:"expected_states_version"`
	ExpectedChecksum  string `json:"expected_states_checksum"`
}

// runVerify prints the revisions and checksums of the embedded policy
// files, so an operator can confirm which rules a deployed binary
// carries without reading its source.
func runVerify(cmd *cobra.Command, args []string) {
	whitelist := gate.DefaultWhitelist()
	expected := analyzer.DefaultExpectedTable()

	result := PolicyVerifyResult{
		WhitelistVersion:  whitelist.Version(),
		WhitelistChecksum: whitelist.Checksum(),
		ExpectedVersion:   expected.Version(),
		ExpectedChecksum:  expected.Checksum(),
	}

	if verifyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("--- Embedded Policy Verification ---")
	fmt.Printf("Action whitelist version:  %d\n", result.WhitelistVersion)
	fmt.Printf("  SHA256: %s\n", result.WhitelistChecksum)
	fmt.Printf("Expected states version:   %d\n", result.ExpectedVersion)
	fmt.Printf("  SHA256: %s\n", result.ExpectedChecksum)
	fmt.Println("------------------------------------")
}
