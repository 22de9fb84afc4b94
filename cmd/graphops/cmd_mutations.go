// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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

	"github.com/AleutianAI/graphops/services/mutation/tools"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Shared flags
	mutNoDryRun   bool
	mutConfirm    bool
	mutJSONOutput bool

	// reindex-specific
	reindexLabel    string
	reindexProperty string

	// migrate-labels-specific
	migrateOldLabel string
	migrateNewLabel string

	// cleanup-orphans-specific
	cleanupMaxDelete int
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild a property index",
	Long: `Rebuild the index for a label/property pair.

Re-running against an existing index is a no-op reported as such.

Examples:
  graphops reindex --label Person --property name
  graphops reindex --label Person --property name --no-dry-run --confirm`,
	Run: runMutationTool("reindex", func() map[string]any {
		return map[string]any{
			"label":    reindexLabel,
			"property": reindexProperty,
		}
	}),
}

var migrateLabelsCmd = &cobra.Command{
	Use:   "migrate-labels",
	Short: "Move all nodes from one label to another",
	Long: `Relabel every node carrying --old to carry --new instead, in
batches of 100 atomic transactions under a 300s deadline. On timeout the
completed batches stay durable and the exact counts are reported.

Examples:
  graphops migrate-labels --old Employee --new Person
  graphops migrate-labels --old Employee --new Person --no-dry-run --confirm`,
	Run: runMutationTool("migrate_labels", func() map[string]any {
		return map[string]any{
			"old_label": migrateOldLabel,
			"new_label": migrateNewLabel,
		}
	}),
}

var cleanupOrphansCmd = &cobra.Command{
	Use:   "cleanup-orphans",
	Short: "Delete nodes with no relationships",
	Long: `Delete orphaned nodes (no incident relationships) in batches of
100 atomic transactions, bounded by --max-delete (hard cap 1000).
Deletion is irreversible; orphans over budget are left in place and
reported.

Examples:
  graphops cleanup-orphans
  graphops cleanup-orphans --max-delete 500 --no-dry-run --confirm`,
	Run: runMutationTool("cleanup_orphans", func() map[string]any {
		return map[string]any{
			"max_delete": cleanupMaxDelete,
		}
	}),
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	for _, cmd := range []*cobra.Command{reindexCmd, migrateLabelsCmd, cleanupOrphansCmd} {
		cmd.Flags().BoolVar(&mutNoDryRun, "no-dry-run", false,
			"Execute instead of previewing")
		cmd.Flags().BoolVar(&mutConfirm, "confirm", false,
			"Explicit consent, required together with --no-dry-run")
		cmd.Flags().BoolVar(&mutJSONOutput, "json", false,
			"Output the full result as JSON")
		rootCmd.AddCommand(cmd)
	}

	reindexCmd.Flags().StringVar(&reindexLabel, "label", "", "Node label (required)")
	reindexCmd.Flags().StringVar(&reindexProperty, "property", "", "Property name (required)")
	_ = reindexCmd.MarkFlagRequired("label")
	_ = reindexCmd.MarkFlagRequired("property")

	migrateLabelsCmd.Flags().StringVar(&migrateOldLabel, "old", "", "Label to migrate from (required)")
	migrateLabelsCmd.Flags().StringVar(&migrateNewLabel, "new", "", "Label to migrate to (required)")
	_ = migrateLabelsCmd.MarkFlagRequired("old")
	_ = migrateLabelsCmd.MarkFlagRequired("new")

	cleanupOrphansCmd.Flags().IntVar(&cleanupMaxDelete, "max-delete", 1000,
		"Deletion budget for this run (1-1000)")
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runMutationTool builds a cobra run function that wires the full stack,
// dispatches one tool invocation, and prints the result.
func runMutationTool(toolName string, baseParams func() map[string]any) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		stack, err := buildStack(ctx, config, logger.Logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer stack.Close(ctx)

		params := baseParams()
		params["dry_run"] = !mutNoDryRun
		params["confirm"] = mutConfirm

		ctx = tools.WithCaller(ctx, config.Identity.Caller())
		result, err := stack.Registry.Dispatch(ctx, toolName, params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if mutJSONOutput {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(out))
		} else if result.Success {
			fmt.Println(result.OutputText)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
		}

		if !result.Success {
			os.Exit(1)
		}
	}
}
