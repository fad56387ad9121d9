package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/dmgrid/nsfabric/pkg/nscatalog"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nspool"
)

func fsckCommand() *cli.Command {
	return &cli.Command{
		Name:      "fsck",
		Usage:     "walk the namespace and report replicas whose backing pool driver can't find them",
		ArgsUsage: "[PATH]",
		Flags:     globalFlags(),
		Action:    fsck,
	}
}

// fsck walks path (default "/"), and for every file's replicas asks the
// owning PoolDriver whether the bytes are actually reachable — the
// namespace-fabric analogue of the teacher's block-vs-slice
// cross-reference, adapted from scanning chunk stores to scanning pool
// replicas (spec.md §4.5 replicaIsAvailable).
func fsck(c *cli.Context) error {
	setLoggerLevel(c)
	root := "/"
	if c.Args().Len() > 0 {
		root = c.Args().Get(0)
	}

	pm, err := buildManager(c)
	if err != nil {
		return err
	}
	si := newStackInstance(pm, c)
	cat, err := nscatalog.FromStack(si)
	if err != nil {
		return err
	}
	pool, err := nspool.FromStack(si)
	if err != nil {
		return err
	}

	ctx := context.Background()
	progress := mpb.New(mpb.WithWidth(60))
	bar := progress.AddBar(0,
		mpb.PrependDecorators(decor.Name("scanning replicas")),
		mpb.AppendDecorators(decor.CountersNoUnit("%d checked")),
	)

	var broken []string
	checked := 0
	var walk func(path string) error
	walk = func(path string) error {
		st, err := cat.ExtendedStat(ctx, path, false)
		if err != nil {
			return err
		}
		if st.IsDir() {
			dir, err := cat.OpenDir(ctx, path)
			if err != nil {
				return err
			}
			defer dir.Close()
			for {
				e, ok := dir.ReadDir()
				if !ok {
					break
				}
				child := path
				if child != "/" {
					child += "/"
				}
				child += e.Name
				if err := walk(child); err != nil {
					logger.Warnf("walk %s: %v", child, err)
				}
			}
			return nil
		}

		reps, err := cat.GetReplicas(ctx, path)
		if err != nil {
			return err
		}
		for _, r := range reps {
			checked++
			bar.Increment()
			p, err := pool.GetPool(ctx, r.Pool)
			if err != nil {
				broken = append(broken, fmt.Sprintf("%s (replica %d): unknown pool %q", path, r.ID, r.Pool))
				continue
			}
			drv, err := poolDriverFor(si, p.Type)
			if err != nil {
				continue
			}
			if !drv.ReplicaIsAvailable(ctx, p, r) {
				broken = append(broken, fmt.Sprintf("%s (replica %d): pfn %s not found in pool %s", path, r.ID, r.PFN, r.Pool))
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return err
	}
	bar.SetTotal(int64(checked), true)
	progress.Wait()

	if len(broken) == 0 {
		logger.Infof("checked %d replicas under %s, no problems found", checked, root)
		return nil
	}
	logger.Errorf("%d broken replicas found under %s:", len(broken), root)
	for _, b := range broken {
		fmt.Println(b)
	}
	return fmt.Errorf("%d broken replicas", len(broken))
}

// poolDriverFor recovers the cached PoolDriver for poolType from the
// StackInstance.
func poolDriverFor(si *nsplugin.StackInstance, poolType string) (nspool.Driver, error) {
	c, err := si.GetPoolDriver(poolType)
	if err != nil {
		return nil, err
	}
	drv, ok := c.(nspool.Driver)
	if !ok {
		return nil, nserr.New(nserr.Internal, "driver for "+poolType+" does not implement nspool.Driver")
	}
	return drv, nil
}
