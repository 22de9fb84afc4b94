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
	"log/slog"
	"net/http"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/graphops/services/mutation/audit"
	"github.com/AleutianAI/graphops/services/mutation/engine"
	"github.com/AleutianAI/graphops/services/mutation/store/neo4j"
	"github.com/AleutianAI/graphops/services/mutation/telemetry"
	"github.com/AleutianAI/graphops/services/mutation/tools"
)

// Stack bundles the wired mutation pipeline and the resources behind it.
type Stack struct {
	Registry *tools.Registry
	Auditor  *audit.Logger
	Buffer   *audit.Buffer

	store         *neo4j.Store
	bufferDB      *badger.DB
	metricsServer *http.Server
	logger        *slog.Logger
}

// buildStack wires store, audit, metrics, engine, and tools from config.
func buildStack(ctx context.Context, cfg *Config, logger *slog.Logger) (*Stack, error) {
	st, err := neo4j.NewStore(ctx, neo4j.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("graph store: %w", err)
	}

	stack := &Stack{store: st, logger: logger}

	buffer, db, err := openAuditBuffer(cfg.Audit, logger)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("audit buffer: %w", err)
	}
	stack.Buffer = buffer
	stack.bufferDB = db
	stack.Auditor = audit.NewLogger(audit.NewSlogSink(logger), buffer, logger)

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics, stack.metricsServer, err = startMetrics(cfg.Metrics, logger)
		if err != nil {
			stack.Close(ctx)
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	eng, err := engine.New(engine.Config{
		Graph:   st,
		Auditor: stack.Auditor,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		stack.Close(ctx)
		return nil, err
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewReindexTool(eng, logger))
	registry.Register(tools.NewMigrateLabelsTool(eng, logger))
	registry.Register(tools.NewCleanupOrphansTool(eng, logger))
	stack.Registry = registry

	return stack, nil
}

// openAuditBuffer opens the on-disk fallback buffer, or an in-memory one
// when no directory is configured.
func openAuditBuffer(cfg AuditConfig, logger *slog.Logger) (*audit.Buffer, *badger.DB, error) {
	if cfg.BufferDir == "" {
		return audit.OpenBuffer(logger)
	}

	opts := badger.DefaultOptions(cfg.BufferDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.BufferDir, err)
	}
	buffer, err := audit.NewBuffer(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return buffer, db, nil
}

// startMetrics registers the OTel meter provider with a Prometheus reader
// and serves /metrics on the configured address.
func startMetrics(cfg MetricsConfig, logger *slog.Logger) (*telemetry.Metrics, *http.Server, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	metrics, err := telemetry.NewMetrics(provider.Meter("graphops"))
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server stopped",
				slog.String("component", "metrics"),
				slog.String("error", err.Error()))
		}
	}()

	logger.Info("Serving metrics",
		slog.String("component", "metrics"),
		slog.String("addr", cfg.ListenAddr))
	return metrics, server, nil
}

// Close releases every resource the stack holds. Safe on a partially
// built stack.
func (s *Stack) Close(ctx context.Context) {
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}
	if s.Auditor != nil {
		if err := s.Auditor.Close(); err != nil {
			s.logger.Warn("Audit close failed",
				slog.String("component", "stack"),
				slog.String("error", err.Error()))
		}
	} else if s.Buffer != nil {
		_ = s.Buffer.Close()
	}
	if s.bufferDB != nil {
		_ = s.bufferDB.Close()
	}
	if s.store != nil {
		_ = s.store.Close(ctx)
	}
}
