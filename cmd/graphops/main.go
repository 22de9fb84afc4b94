// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// graphops is the operator CLI for irreversible property-graph mutations:
// index rebuilds, label migrations, and orphan cleanup. Every command
// defaults to a dry-run preview; execution requires --no-dry-run together
// with --confirm.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/graphops/pkg/logging"
)

var (
	config     *Config
	configPath string
	logger     *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "graphops",
	Short: "Safe, audited mutations of the property graph",
	Long: `graphops performs irreversible structural mutations of the knowledge
graph with mandatory preview, authorization, chunked atomic execution,
and a complete audit trail.

All commands default to a dry run. To execute, pass --no-dry-run --confirm.

Examples:
  graphops reindex --label Person --property name
  graphops migrate-labels --old Employee --new Person --no-dry-run --confirm
  graphops cleanup-orphans --max-delete 500 --no-dry-run --confirm`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"Path to the configuration file")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Error loading %s: %v", configPath, err)
		}
		config = cfg

		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			log.Fatalf("Error in logging config: %v", err)
		}
		logger = logging.New(logging.Config{
			Level:   level,
			Service: "graphops",
			LogDir:  cfg.Logging.Dir,
			JSON:    cfg.Logging.JSON,
		})
		slog.SetDefault(logger.Logger)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	}
}
