// Package config loads the positional configuration spec.md §6 mandates
// for the controller and data-node binaries, optionally overlaid with a
// YAML file for convenience. Positional/flag arguments always win over
// the YAML file's values, matching the teacher's cmn.GCO pattern of a
// single config object threaded through the subsystems instead of
// package-level globals.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Controller is the controller's configuration: listening port,
// replication factor, per-operation timeout, and rebalance period.
type Controller struct {
	Port            string        `yaml:"port"`
	ReplicationFactor int         `yaml:"replication_factor"`
	Timeout         time.Duration `yaml:"-"`
	TimeoutMS       int64         `yaml:"timeout_ms"`
	RebalancePeriod time.Duration `yaml:"-"`
	RebalancePeriodMS int64       `yaml:"rebalance_period_ms"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// DataNode is the data node's configuration: its own listening port, the
// controller's address, the per-operation timeout, and its local file
// folder.
type DataNode struct {
	Port        string        `yaml:"port"`
	ControllerAddr string     `yaml:"controller_addr"`
	Timeout     time.Duration `yaml:"-"`
	TimeoutMS   int64         `yaml:"timeout_ms"`
	FileFolder  string        `yaml:"file_folder"`
}

// LoadYAML overlays base fields with any present in the file at path. A
// zero path is a no-op. Fields absent from the YAML document are left
// untouched.
func LoadYAML(path string, into interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// ResolveDurations fills in the time.Duration fields from their
// millisecond counterparts; called after flags/YAML have set the *MS
// fields.
func (c *Controller) ResolveDurations() {
	c.Timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	c.RebalancePeriod = time.Duration(c.RebalancePeriodMS) * time.Millisecond
}

// ResolveDurations fills in Timeout from TimeoutMS.
func (d *DataNode) ResolveDurations() {
	d.Timeout = time.Duration(d.TimeoutMS) * time.Millisecond
}

// Validate checks the controller config is well-formed.
func (c *Controller) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: missing controller port")
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("config: replication factor must be >= 1, got %d", c.ReplicationFactor)
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("config: timeout_ms must be > 0, got %d", c.TimeoutMS)
	}
	if c.RebalancePeriodMS <= 0 {
		return fmt.Errorf("config: rebalance_period_ms must be > 0, got %d", c.RebalancePeriodMS)
	}
	return nil
}

// Validate checks the data node config is well-formed.
func (d *DataNode) Validate() error {
	if d.Port == "" {
		return fmt.Errorf("config: missing data node port")
	}
	if d.ControllerAddr == "" {
		return fmt.Errorf("config: missing controller address")
	}
	if d.TimeoutMS <= 0 {
		return fmt.Errorf("config: timeout_ms must be > 0, got %d", d.TimeoutMS)
	}
	if d.FileFolder == "" {
		return fmt.Errorf("config: missing file folder")
	}
	return nil
}
