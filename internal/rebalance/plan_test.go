/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package rebalance_test

import (
	"testing"

	"github.com/riverside-labs/dstore/internal/rebalance"
	"github.com/riverside-labs/dstore/internal/testutil"
)

func TestComputeReconcilesPhantomFile(t *testing.T) {
	plan := rebalance.Compute(rebalance.Input{
		R: 1,
		Reported: map[string][]string{
			"4001": {"ghost.txt"},
		},
		Visible:          map[string]bool{},
		RemoveInProgress: map[string]bool{},
	})
	testutil.Fatalf(t, len(plan.Removals["4001"]) == 1 && plan.Removals["4001"][0] == "ghost.txt",
		"expected ghost.txt scheduled for removal, got %v", plan.Removals)
}

func TestComputeReconcilesRemoveInProgress(t *testing.T) {
	plan := rebalance.Compute(rebalance.Input{
		R: 1,
		Reported: map[string][]string{
			"4001": {"a.txt"},
		},
		Visible:          map[string]bool{"a.txt": true},
		RemoveInProgress: map[string]bool{"a.txt": true},
	})
	testutil.Fatalf(t, len(plan.Removals["4001"]) == 1, "expected a.txt scheduled for removal, got %v", plan.Removals)
	_, held := plan.FilesStored["a.txt"]
	testutil.Errorf(t, !held, "a removed-in-progress file should not remain in filesStored")
}

func TestComputeReplicatesUnderReplicatedFile(t *testing.T) {
	plan := rebalance.Compute(rebalance.Input{
		R: 2,
		Reported: map[string][]string{
			"4001": {"a.txt"},
			"4002": {},
		},
		Visible:          map[string]bool{"a.txt": true},
		RemoveInProgress: map[string]bool{},
	})
	testutil.Fatalf(t, len(plan.FilesStored["a.txt"]) == 2,
		"expected a.txt on 2 nodes after reconciliation, got %v", plan.FilesStored["a.txt"])
	testutil.Errorf(t, len(plan.Sends["4001"]["a.txt"]) == 1 && plan.Sends["4001"]["a.txt"][0] == "4002",
		"expected 4001 to send a.txt to 4002, got %v", plan.Sends)
}

func TestComputeLoadBalancesAfterJoin(t *testing.T) {
	// files a,b,c each on {4001,4002}; 4003 just joined.
	plan := rebalance.Compute(rebalance.Input{
		R: 2,
		Reported: map[string][]string{
			"4001": {"a.txt", "b.txt", "c.txt"},
			"4002": {"a.txt", "b.txt", "c.txt"},
			"4003": {},
		},
		Visible:          map[string]bool{"a.txt": true, "b.txt": true, "c.txt": true},
		RemoveInProgress: map[string]bool{},
	})
	testutil.Fatalf(t, plan.Min == 2 && plan.Max == 2, "expected min=max=2, got min=%d max=%d", plan.Min, plan.Max)

	for port, files := range plan.Currents {
		testutil.Errorf(t, len(files) == 2, "expected node %s to hold 2 files after balancing, got %d (%v)",
			port, len(files), files)
	}
	for fname, holders := range plan.FilesStored {
		testutil.Errorf(t, len(holders) == 2, "expected %s to keep replication factor 2, got %v", fname, holders)
	}
}

func TestComputeSkipsPlanningWhenNotEnoughNodes(t *testing.T) {
	plan := rebalance.Compute(rebalance.Input{
		R: 3,
		Reported: map[string][]string{
			"4001": {"a.txt"},
			"4002": {"a.txt"},
		},
		Visible:          map[string]bool{"a.txt": true},
		RemoveInProgress: map[string]bool{},
	})
	testutil.Errorf(t, len(plan.Sends) == 0, "expected no sends planned when N < R, got %v", plan.Sends)
}
