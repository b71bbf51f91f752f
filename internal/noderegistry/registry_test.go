/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package noderegistry_test

import (
	"testing"

	"github.com/riverside-labs/dstore/internal/noderegistry"
	"github.com/riverside-labs/dstore/internal/testutil"
)

func TestSelectLeastLoadedBreaksTiesByPort(t *testing.T) {
	r := noderegistry.New()
	r.Join("4002", "h:4002", nil)
	r.Join("4001", "h:4001", nil)
	r.Join("4003", "h:4003", nil)

	ports, err := r.SelectLeastLoaded(2)
	testutil.CheckFatal(t, err)
	testutil.Fatalf(t, len(ports) == 2 && ports[0] == "4001" && ports[1] == "4002",
		"expected [4001 4002] on tied load, got %v", ports)
}

func TestSelectLeastLoadedPrefersLowerCount(t *testing.T) {
	r := noderegistry.New()
	r.Join("4001", "h:4001", nil)
	r.Join("4002", "h:4002", nil)
	r.AdjustFileCount("4001", 5)

	ports, err := r.SelectLeastLoaded(1)
	testutil.CheckFatal(t, err)
	testutil.Fatalf(t, ports[0] == "4002", "expected 4002 (fewer files), got %v", ports)
}

func TestSelectLeastLoadedFailsWhenNotEnoughNodes(t *testing.T) {
	r := noderegistry.New()
	r.Join("4001", "h:4001", nil)

	_, err := r.SelectLeastLoaded(2)
	testutil.Errorf(t, err == noderegistry.ErrNotEnoughNodes, "expected ErrNotEnoughNodes, got %v", err)
}

func TestRemoveDropsNode(t *testing.T) {
	r := noderegistry.New()
	r.Join("4001", "h:4001", nil)
	r.Remove("4001")

	testutil.Errorf(t, r.Len() == 0, "expected empty registry after Remove, got %d", r.Len())
	_, ok := r.Get("4001")
	testutil.Errorf(t, !ok, "expected node gone after Remove")
}

func TestSetFileCountOverwrites(t *testing.T) {
	r := noderegistry.New()
	r.Join("4001", "h:4001", nil)
	r.AdjustFileCount("4001", 7)
	r.SetFileCount("4001", 3)

	n, ok := r.Get("4001")
	testutil.Fatalf(t, ok && n.FileCount() == 3, "expected file count 3, got %+v", n)
}
