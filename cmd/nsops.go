package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/dmgrid/nsfabric/pkg/nspool"
)

func mkdirCommand() *cli.Command {
	return &cli.Command{
		Name:      "mkdir",
		Usage:     "create a namespace directory",
		ArgsUsage: "PATH",
		Flags:     append(globalFlags(), &cli.IntFlag{Name: "mode", Value: 0755}),
		Action: func(c *cli.Context) error {
			setLoggerLevel(c)
			if c.Args().Len() != 1 {
				return cli.Exit("mkdir requires exactly one path", 1)
			}
			cat, _, err := stackCatalog(c)
			if err != nil {
				return err
			}
			return cat.MakeDir(context.Background(), c.Args().Get(0), uint16(c.Int("mode")))
		},
	}
}

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "remove a file or empty directory from the namespace",
		ArgsUsage: "PATH",
		Flags:     append(globalFlags(), &cli.BoolFlag{Name: "dir", Usage: "remove a directory instead of a file"}),
		Action: func(c *cli.Context) error {
			setLoggerLevel(c)
			if c.Args().Len() != 1 {
				return cli.Exit("rm requires exactly one path", 1)
			}
			cat, _, err := stackCatalog(c)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if c.Bool("dir") {
				return cat.RemoveDir(ctx, c.Args().Get(0))
			}
			return cat.Unlink(ctx, c.Args().Get(0))
		},
	}
}

func mvCommand() *cli.Command {
	return &cli.Command{
		Name:      "mv",
		Usage:     "rename a namespace entry",
		ArgsUsage: "OLDPATH NEWPATH",
		Flags:     globalFlags(),
		Action: func(c *cli.Context) error {
			setLoggerLevel(c)
			if c.Args().Len() != 2 {
				return cli.Exit("mv requires exactly two paths", 1)
			}
			cat, _, err := stackCatalog(c)
			if err != nil {
				return err
			}
			return cat.Rename(context.Background(), c.Args().Get(0), c.Args().Get(1))
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "print the inode, mode, size and replica count of a namespace entry",
		ArgsUsage: "PATH",
		Flags:     globalFlags(),
		Action: func(c *cli.Context) error {
			setLoggerLevel(c)
			if c.Args().Len() != 1 {
				return cli.Exit("stat requires exactly one path", 1)
			}
			cat, _, err := stackCatalog(c)
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := cat.ExtendedStat(ctx, c.Args().Get(0), true)
			if err != nil {
				return err
			}
			fmt.Printf("Ino:     %d\n", st.ID)
			fmt.Printf("Path:    %s\n", st.Path)
			fmt.Printf("Type:    %v\n", st.Type)
			fmt.Printf("Mode:    %o\n", st.Stat.Mode)
			fmt.Printf("Owner:   %d:%d\n", st.Stat.UID, st.Stat.GID)
			fmt.Printf("Size:    %d\n", st.Stat.Size)
			if !st.IsDir() {
				reps, err := cat.GetReplicas(ctx, c.Args().Get(0))
				if err != nil {
					return err
				}
				fmt.Printf("Replicas: %d\n", len(reps))
				for _, r := range reps {
					fmt.Printf("  pool=%s pfn=%s status=%v\n", r.Pool, r.PFN, r.Status)
				}
			}
			return nil
		},
	}
}

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list a namespace directory",
		ArgsUsage: "PATH",
		Flags:     globalFlags(),
		Action: func(c *cli.Context) error {
			setLoggerLevel(c)
			path := "/"
			if c.Args().Len() > 0 {
				path = c.Args().Get(0)
			}
			cat, _, err := stackCatalog(c)
			if err != nil {
				return err
			}
			ctx := context.Background()
			dir, err := cat.OpenDir(ctx, path)
			if err != nil {
				return err
			}
			defer dir.Close()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			for {
				e, ok := dir.ReadDir()
				if !ok {
					break
				}
				fmt.Fprintf(w, "%d\t%s\n", e.Ino, e.Name)
			}
			return nil
		},
	}
}

func poolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "pools",
		Usage: "list configured storage pools and their capacity",
		Flags: globalFlags(),
		Action: func(c *cli.Context) error {
			setLoggerLevel(c)
			pm, err := buildManager(c)
			if err != nil {
				return err
			}
			si := newStackInstance(pm, c)
			pool, err := nspool.FromStack(si)
			if err != nil {
				return err
			}
			ctx := context.Background()
			pools, err := pool.GetPools(ctx, nspool.AvailabilityAny)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "NAME\tTYPE\tTOTAL\tFREE")
			for _, p := range pools {
				drv, err := poolDriverFor(si, p.Type)
				if err != nil {
					fmt.Fprintf(w, "%s\t%s\t?\t?\n", p.Name, p.Type)
					continue
				}
				total, _ := drv.TotalSpace(ctx, p)
				free, _ := drv.FreeSpace(ctx, p)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Type, strconv.FormatUint(total, 10), strconv.FormatUint(free, 10))
			}
			return nil
		},
	}
}
