// Copyright (C) 2025 Laguna Labs (ops@lagunalabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/lagunalabs/tidewarden/pkg/logging"
)

func main() {
	logger := logging.Default()
	defer logger.Close()

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
