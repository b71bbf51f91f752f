// Command controller runs the dstore coordinator: the file index, node
// registry, request handlers, and the periodic rebalance pass.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/riverside-labs/dstore/internal/config"
	"github.com/riverside-labs/dstore/internal/controller"
	"github.com/riverside-labs/dstore/internal/metrics"
	"github.com/riverside-labs/dstore/internal/rebalance"
)

func main() {
	app := cli.NewApp()
	app.Name = "controller"
	app.Usage = "dstore coordinating controller"
	app.ArgsUsage = "cport replicationFactor timeout-ms rebalance-period-ms"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "optional YAML overlay; positional args still win"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		glog.Fatalf("controller: %v", err)
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

	reg := prometheus.NewRegistry()
	mset := metrics.New(reg)
	coord := controller.New(cfg, mset)
	planner := rebalance.New(coord)
	coord.Reb = planner

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return err
	}
	glog.Infof("controller listening on :%s (R=%d, timeout=%s, rebalancePeriod=%s)",
		cfg.Port, cfg.ReplicationFactor, cfg.Timeout, cfg.RebalancePeriod)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.Serve(ctx, ln); err != nil {
			glog.Errorf("controller: serve: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		planner.Run(ctx)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("metrics server: %v", err)
			}
		}()
	}

	waitForSignal()
	glog.Infof("controller: shutting down")
	cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	wg.Wait()
	return nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// parseConfig builds a Controller config from the optional --config YAML
// overlay followed by positional arguments, which always take
// precedence, per spec.md §6.
func parseConfig(c *cli.Context) (*config.Controller, error) {
	cfg := &config.Controller{}
	if err := config.LoadYAML(c.String("config"), cfg); err != nil {
		return nil, err
	}

	args := c.Args()
	if len(args) > 0 {
		cfg.Port = args.Get(0)
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args.Get(1))
		if err != nil {
			return nil, err
		}
		cfg.ReplicationFactor = n
	}
	if len(args) > 2 {
		n, err := strconv.ParseInt(args.Get(2), 10, 64)
		if err != nil {
			return nil, err
		}
		cfg.TimeoutMS = n
	}
	if len(args) > 3 {
		n, err := strconv.ParseInt(args.Get(3), 10, 64)
		if err != nil {
			return nil, err
		}
		cfg.RebalancePeriodMS = n
	}

	cfg.ResolveDurations()
	return cfg, nil
}
