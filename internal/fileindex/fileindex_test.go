/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fileindex_test

import (
	"testing"

	"github.com/riverside-labs/dstore/internal/fileindex"
	"github.com/riverside-labs/dstore/internal/testutil"
)

func TestAdmitStoreRejectsDuplicate(t *testing.T) {
	ix := fileindex.New()
	testutil.CheckFatal(t, ix.AdmitStore("a.txt", 10, []string{"4001", "4002"}))

	err := ix.AdmitStore("a.txt", 10, []string{"4001", "4002"})
	testutil.Errorf(t, err == fileindex.ErrAlreadyExists, "expected ErrAlreadyExists, got %v", err)
}

func TestMarkStoreCompleteMakesVisible(t *testing.T) {
	ix := fileindex.New()
	testutil.CheckFatal(t, ix.AdmitStore("a.txt", 10, []string{"4001"}))

	testutil.Errorf(t, len(ix.SnapshotVisible()) == 0, "file should not be visible before STORE_COMPLETE")

	ix.MarkStoreComplete("a.txt")
	visible := ix.SnapshotVisible()
	testutil.Fatalf(t, len(visible) == 1 && visible[0] == "a.txt", "expected [a.txt] visible, got %v", visible)
}

func TestAdmitRemoveRequiresVisible(t *testing.T) {
	ix := fileindex.New()
	testutil.CheckFatal(t, ix.AdmitStore("a.txt", 10, []string{"4001"}))

	err := ix.AdmitRemove("a.txt")
	testutil.Errorf(t, err == fileindex.ErrDoesNotExist, "expected ErrDoesNotExist for in-progress store, got %v", err)

	ix.MarkStoreComplete("a.txt")
	testutil.CheckFatal(t, ix.AdmitRemove("a.txt"))

	entry, ok := ix.Get("a.txt")
	testutil.Fatalf(t, ok && entry.Status == fileindex.RemoveInProgress, "expected REMOVE_IN_PROGRESS, got %+v", entry)
}

func TestDropIsUnconditional(t *testing.T) {
	ix := fileindex.New()
	testutil.CheckFatal(t, ix.AdmitStore("a.txt", 10, []string{"4001"}))
	ix.Drop("a.txt")

	_, ok := ix.Get("a.txt")
	testutil.Errorf(t, !ok, "expected entry to be gone after Drop")
}

func TestScrubNodeRemovesFromReplicas(t *testing.T) {
	ix := fileindex.New()
	testutil.CheckFatal(t, ix.AdmitStore("a.txt", 10, []string{"4001", "4002"}))
	ix.MarkStoreComplete("a.txt")

	ix.ScrubNode("4001")
	entry, ok := ix.Get("a.txt")
	testutil.Fatalf(t, ok, "entry should still exist")
	testutil.Errorf(t, len(entry.Replicas) == 1 && entry.Replicas[0] == "4002",
		"expected only 4002 left, got %v", entry.Replicas)
}

func TestSnapshotAllIncludesEveryStatus(t *testing.T) {
	ix := fileindex.New()
	testutil.CheckFatal(t, ix.AdmitStore("a.txt", 1, []string{"4001"}))
	testutil.CheckFatal(t, ix.AdmitStore("b.txt", 2, []string{"4001"}))
	ix.MarkStoreComplete("b.txt")
	testutil.CheckFatal(t, ix.AdmitStore("c.txt", 3, []string{"4001"}))
	ix.MarkStoreComplete("c.txt")
	testutil.CheckFatal(t, ix.AdmitRemove("c.txt"))

	all := ix.SnapshotAll()
	testutil.Fatalf(t, len(all) == 3, "expected 3 entries, got %d", len(all))
}
