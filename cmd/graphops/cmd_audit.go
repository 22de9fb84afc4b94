// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/graphops/services/mutation/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and drain the fallback audit buffer",
	Long: `Records that could not reach the primary audit sink are buffered
locally. These commands inspect that buffer and replay it once the sink
has recovered.`,
}

var auditPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Count buffered audit records",
	Run:   runAuditPending,
}

var auditDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay buffered audit records into the primary sink",
	Run:   runAuditDrain,
}

func init() {
	auditCmd.AddCommand(auditPendingCmd)
	auditCmd.AddCommand(auditDrainCmd)
	rootCmd.AddCommand(auditCmd)
}

// withAuditBuffer opens the configured buffer, runs fn, and closes it.
func withAuditBuffer(fn func(ctx context.Context, buffer *audit.Buffer) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if config.Audit.BufferDir == "" {
		fmt.Fprintln(os.Stderr, "Error: audit.buffer_dir is not configured; the in-memory buffer does not outlive a process")
		os.Exit(1)
	}

	buffer, db, err := openAuditBuffer(config.Audit, logger.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := fn(ctx, buffer); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAuditPending(cmd *cobra.Command, args []string) {
	withAuditBuffer(func(ctx context.Context, buffer *audit.Buffer) error {
		pending, err := buffer.Pending()
		if err != nil {
			return err
		}
		fmt.Printf("%d buffered audit record(s)\n", pending)
		return nil
	})
}

func runAuditDrain(cmd *cobra.Command, args []string) {
	withAuditBuffer(func(ctx context.Context, buffer *audit.Buffer) error {
		primary := audit.NewSlogSink(logger.Logger)
		defer primary.Close()

		drained, err := buffer.Drain(ctx, primary)
		if drained > 0 || err == nil {
			fmt.Printf("Replayed %d audit record(s)\n", drained)
		}
		return err
	})
}
