// Command client is an interactive dstore client: store, load, remove,
// and list named files against a running controller.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"golang.org/x/term"

	"github.com/riverside-labs/dstore/internal/dstoreclient"
)

func main() {
	app := cli.NewApp()
	app.Name = "dstore-client"
	app.Usage = "talk to a dstore controller"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "controller", Value: "localhost:5000", Usage: "controller host:port"},
		cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per-operation timeout"},
	}
	app.Commands = []cli.Command{
		{
			Name:      "store",
			Usage:     "upload a local file under the given name",
			ArgsUsage: "name local-path",
			Action:    storeAction,
		},
		{
			Name:      "load",
			Usage:     "download a file to the given local path",
			ArgsUsage: "name local-path",
			Action:    loadAction,
		},
		{
			Name:      "remove",
			Usage:     "delete a stored file",
			ArgsUsage: "name",
			Action:    removeAction,
		},
		{
			Name:  "list",
			Usage: "list stored files",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "json", Usage: "emit the listing as a JSON array instead of one name per line"},
			},
			Action: listAction,
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func dial(c *cli.Context) (*dstoreclient.Client, error) {
	return dstoreclient.Dial(c.GlobalString("controller"), c.GlobalDuration("timeout"))
}

func storeAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: store name local-path", 1)
	}
	name, path := c.Args().Get(0), c.Args().Get(1)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	bar := newProgressBar(name, fi.Size())
	reader := bar.reader(f)

	if err := client.Store(name, reader, fi.Size()); err != nil {
		return err
	}
	bar.done()
	color.Green("stored %q (%d bytes)", name, fi.Size())
	return nil
}

func loadAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: load name local-path", 1)
	}
	name, path := c.Args().Get(0), c.Args().Get(1)

	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := client.Load(name, out); err != nil {
		return err
	}
	color.Green("loaded %q -> %s", name, path)
	return nil
}

func removeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: remove name", 1)
	}
	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Remove(c.Args().Get(0)); err != nil {
		return err
	}
	color.Green("removed %q", c.Args().Get(0))
	return nil
}

func listAction(c *cli.Context) error {
	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	names, err := client.List()
	if err != nil {
		return err
	}

	if c.Bool("json") {
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(names, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// progressBar wraps an mpb bar for a single upload, degrading to a
// no-op when stdout is not a terminal (the teacher's CLI makes the
// same call via golang.org/x/term before drawing its own bars).
type progressBar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newProgressBar(name string, total int64) *progressBar {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return &progressBar{}
	}
	p := mpb.New(mpb.WithWidth(40))
	bar := p.AddBar(total,
		mpb.PrependDecorators(decor.Name(name)),
		mpb.AppendDecorators(decor.CountersKibiByte("% .2f / % .2f")),
	)
	return &progressBar{p: p, bar: bar}
}

func (b *progressBar) reader(f *os.File) *countingReader {
	return &countingReader{f: f, bar: b.bar}
}

func (b *progressBar) done() {
	if b.p != nil {
		b.p.Wait()
	}
}

type countingReader struct {
	f   *os.File
	bar *mpb.Bar
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if r.bar != nil && n > 0 {
		r.bar.IncrBy(n)
	}
	return n, err
}
