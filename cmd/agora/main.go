// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/agora-ai/agora/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.PrintError("%v", err)
		os.Exit(1)
	}
}
