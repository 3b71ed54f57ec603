package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/readahead"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/storage"
	"github.com/urfave/cli"
)

func options(c *cli.Context) storage.Options {
	opts := storage.DefaultOptions()
	opts.Slots = c.GlobalInt("slots")
	opts.Async = c.GlobalBool("async")
	return opts
}

func openStore(c *cli.Context) (*storage.Storage, error) {
	path := c.GlobalString("device")
	if path == "" {
		return nil, errors.Wrap(internalerror.InvalidParameter, "--device is required")
	}
	return storage.OpenFile(context.Background(), path, options(c))
}

func createImage(c *cli.Context) error {
	path := c.GlobalString("device")
	capacity := c.Uint64("capacity")
	pu := uint32(c.Uint("program-unit"))
	eu := uint32(c.Uint("erase-unit"))
	fmt.Printf("Creating flash image <%s>, capacity is <%s>\n", path, humanize.IBytes(capacity))
	store, err := storage.CreateFile(context.Background(), path, capacity, pu, eu, options(c))
	if err != nil {
		return err
	}
	defer store.Close()
	printInfo(store)
	return nil
}

func printInfo(store *storage.Storage) {
	geometry := store.Geometry()
	info := store.Info()
	fmt.Println("===flash journal===")
	fmt.Printf("Device         %s\n", geometry)
	fmt.Printf("Slots          %d x %s\n", info.Slots, humanize.IBytes(info.SlotSize))
	fmt.Printf("Capacity       %d, for short %s\n", info.Capacity, humanize.IBytes(info.Capacity))
	fmt.Printf("Program Unit   %d\n", info.ProgramUnit)
	fmt.Printf("Current Slot   %d\n", info.CurrentSlot)
	fmt.Printf("Generation     %d\n", info.Generation)
	fmt.Printf("Committed Size %d, for short %s\n", info.CommittedSize, humanize.IBytes(info.CommittedSize))
}

func infoImage(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	printInfo(store)
	return nil
}

func historyImage(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	for _, s := range store.History() {
		fmt.Printf("slot %d: generation %d, %s\n", s.Slot, s.Generation, humanize.IBytes(s.Size))
	}
	return nil
}

func logImage(c *cli.Context) (err error) {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	var in io.Reader = os.Stdin
	if name := c.String("file"); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	ra := readahead.NewReader(in)
	defer ra.Close()

	n, err := store.Put(context.Background(), ra)
	if err != nil {
		return err
	}
	info := store.Info()
	fmt.Printf("committed %s into slot %d, generation %d\n", humanize.IBytes(n), info.CurrentSlot, info.Generation)
	return nil
}

func readImage(c *cli.Context) (err error) {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	var out io.Writer = os.Stdout
	if name := c.String("file"); name != "" && name != "-" {
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	ra := readahead.NewReader(store.NewReader(context.Background()))
	defer ra.Close()
	_, err = io.Copy(out, ra)
	return err
}

func resetImage(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	if err = store.Reset(context.Background()); err != nil {
		return err
	}
	fmt.Println("journal erased")
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "fjctl"
	app.Usage = "flash journal subcommand"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "device", Usage: "path of the flash image"},
		cli.IntFlag{Name: "slots", Value: 4, Usage: "number of journal slots of a new image, kept in its header"},
		cli.BoolFlag{Name: "async", Usage: "use the queued storage driver"},
		cli.BoolFlag{Name: "debug"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "create",
			Usage: "create --capacity <size> --program-unit <n> --erase-unit <n>",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "capacity", Value: 64 << 10},
				cli.UintFlag{Name: "program-unit", Value: 4},
				cli.UintFlag{Name: "erase-unit", Value: 4096},
			},
			Action: createImage,
		},
		{
			Name:   "info",
			Usage:  "info",
			Action: infoImage,
		},
		{
			Name:   "history",
			Usage:  "history",
			Action: historyImage,
		},
		{
			Name:  "log",
			Usage: "log --file <path>, stdin by default",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "file"},
			},
			Action: logImage,
		},
		{
			Name:  "read",
			Usage: "read --file <path>, stdout by default",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "file"},
			},
			Action: readImage,
		},
		{
			Name:   "reset",
			Usage:  "reset",
			Action: resetImage,
		},
		{
			Name:  "serve",
			Usage: "serve --addr :8081 --static <dir>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Value: ":8081"},
				cli.StringFlag{Name: "static"},
			},
			Action: serveImage,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
