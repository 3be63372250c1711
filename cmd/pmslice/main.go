// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pmslice runs pseudo-marginal slice sampling chains on demo
// targets.
//
//	pmslice run --target gaussian --mode pseudo-marginal --chains 4
//	pmslice targets
//	pmslice config --write ~/.pmslice/config.yaml
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/pmslice/pkg/ux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		ux.NewPrinter(os.Stderr, ux.DetectPersonality(os.Stderr)).Error(err.Error())
		stop()
		os.Exit(1)
	}
}
