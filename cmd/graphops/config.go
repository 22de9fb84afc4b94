// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/graphops/services/mutation/authz"
)

// Config is the top-level config.yaml structure.
type Config struct {
	Neo4j    Neo4jConfig    `yaml:"neo4j" validate:"required"`
	Identity IdentityConfig `yaml:"identity" validate:"required"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
}

// Neo4jConfig holds graph database connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// IdentityConfig names the operator running mutations. Authorization is
// enforced by the engine, not trusted from here: a non-ADMIN identity in
// this file is denied (and audited) at invocation time.
type IdentityConfig struct {
	UserID      string   `yaml:"user_id" validate:"required"`
	Role        string   `yaml:"role" validate:"required,oneof=USER EXTRACTOR ADMIN"`
	Permissions []string `yaml:"permissions" validate:"dive,oneof=REINDEX MANAGE_SCHEMA ADMIN_OPERATIONS"`
}

// Caller converts the configured identity to an authorization context.
func (c IdentityConfig) Caller() authz.Context {
	caller := authz.Context{
		UserID: c.UserID,
		Role:   authz.Role(c.Role),
	}
	for _, p := range c.Permissions {
		caller.Permissions = append(caller.Permissions, authz.Permission(p))
	}
	return caller
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr" validate:"required_if=Enabled true"`
}

// AuditConfig controls audit persistence.
type AuditConfig struct {
	// BufferDir is the on-disk location of the fallback audit buffer.
	// Empty uses an in-memory buffer, losing fallback records on exit.
	BufferDir string `yaml:"buffer_dir"`
}

// LoadConfig reads, parses, and validates config.yaml.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
