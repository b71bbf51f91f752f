// Command datanode runs one dstore data node: it joins a controller,
// serves LIST/REMOVE/REBALANCE directives on that session, and accepts
// direct client/node raw-byte transfers on its own listening port.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
	"github.com/urfave/cli"

	"github.com/riverside-labs/dstore/internal/config"
	"github.com/riverside-labs/dstore/internal/datanode"
)

func main() {
	app := cli.NewApp()
	app.Name = "datanode"
	app.Usage = "dstore data node"
	app.ArgsUsage = "port cport timeout-ms file-folder"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "optional YAML overlay; positional args still win"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		glog.Fatalf("datanode: %v", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := parseConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := openStore(cfg.FileFolder)
	if err != nil {
		return err
	}

	node := datanode.New(cfg, store)

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return err
	}
	glog.Infof("datanode listening on :%s, joining controller at %s", cfg.Port, cfg.ControllerAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		node.RunControllerSession(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := node.ServeClients(ctx, ln); err != nil {
			glog.Errorf("datanode: serve: %v", err)
		}
	}()

	waitForSignal()
	glog.Infof("datanode: shutting down")
	cancel()
	wg.Wait()
	return nil
}

// openStore returns a directory-backed store when a file folder was
// configured, or an in-memory store otherwise.
func openStore(folder string) (datanode.LocalStore, error) {
	if folder == "" {
		return datanode.NewMemStore(), nil
	}
	return datanode.NewDirStore(folder)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func parseConfig(c *cli.Context) (*config.DataNode, error) {
	cfg := &config.DataNode{}
	if err := config.LoadYAML(c.String("config"), cfg); err != nil {
		return nil, err
	}

	args := c.Args()
	if len(args) > 0 {
		cfg.Port = args.Get(0)
	}
	if len(args) > 1 {
		cfg.ControllerAddr = "localhost:" + args.Get(1)
	}
	if len(args) > 2 {
		n, err := strconv.ParseInt(args.Get(2), 10, 64)
		if err != nil {
			return nil, err
		}
		cfg.TimeoutMS = n
	}
	if len(args) > 3 {
		cfg.FileFolder = args.Get(3)
	}

	cfg.ResolveDurations()
	return cfg, nil
}
