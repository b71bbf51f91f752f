// Package metrics exposes Prometheus counters and gauges for the
// controller. It is purely observational: nothing in internal/controller
// or internal/rebalance reads these values back to make a protocol
// decision, matching spec.md's Non-goals for persistence/consistency
// without dropping the ambient observability layer the teacher carries
// for its own rebalance passes (stats.ExtRebalanceStats).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles every counter/gauge the controller updates.
type Set struct {
	StoresAdmitted   prometheus.Counter
	StoresCompleted  prometheus.Counter
	StoresTimedOut   prometheus.Counter
	RemovesAdmitted  prometheus.Counter
	RemovesCompleted prometheus.Counter
	RemovesTimedOut  prometheus.Counter
	RebalancePasses  prometheus.Counter
	RebalanceMoved   prometheus.Counter
	RebalanceDeleted prometheus.Counter
	NodesLive        prometheus.Gauge
}

// New registers and returns a fresh metrics Set against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func New(reg prometheus.Registerer) *Set {
	f := promauto.With(reg)
	return &Set{
		StoresAdmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_stores_admitted_total",
			Help: "STORE commands admitted into the file index.",
		}),
		StoresCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_stores_completed_total",
			Help: "STORE operations that reached STORE_COMPLETE.",
		}),
		StoresTimedOut: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_stores_timed_out_total",
			Help: "STORE operations that did not collect R acks before the deadline.",
		}),
		RemovesAdmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_removes_admitted_total",
			Help: "REMOVE commands admitted into the file index.",
		}),
		RemovesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_removes_completed_total",
			Help: "REMOVE operations that reached REMOVE_COMPLETE.",
		}),
		RemovesTimedOut: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_removes_timed_out_total",
			Help: "REMOVE operations left in REMOVE_IN_PROGRESS for rebalance to reconcile.",
		}),
		RebalancePasses: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_rebalance_passes_total",
			Help: "Completed rebalance passes.",
		}),
		RebalanceMoved: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_rebalance_files_moved_total",
			Help: "File replicas sent by a rebalance pass.",
		}),
		RebalanceDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "dstore_rebalance_files_deleted_total",
			Help: "File replicas deleted by a rebalance pass.",
		}),
		NodesLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "dstore_nodes_live",
			Help: "Currently registered data nodes.",
		}),
	}
}
