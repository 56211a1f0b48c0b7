// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command benchlab benchmarks allocation strategies and compression codecs.
package main

import (
	"context"
	"os"

	"github.com/AleutianAI/benchlab/pkg/ux"
)

func main() {
	ctx := context.Background()
	rootCmd, cleanup := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if cerr := cleanup(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
