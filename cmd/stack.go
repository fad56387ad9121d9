package main

import (
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dmgrid/nsfabric/pkg/nscache"
	"github.com/dmgrid/nsfabric/pkg/nscatalog"
	"github.com/dmgrid/nsfabric/pkg/nsconfig"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	_ "github.com/dmgrid/nsfabric/pkg/nsinode/memory"
	_ "github.com/dmgrid/nsfabric/pkg/nsinode/sqlinode"
	"github.com/dmgrid/nsfabric/pkg/nsio"
	"github.com/dmgrid/nsfabric/pkg/nslog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nspool"
	"github.com/dmgrid/nsfabric/pkg/nspool/driver/hdfs"
	"github.com/dmgrid/nsfabric/pkg/nspool/driver/posix"
	"github.com/dmgrid/nsfabric/pkg/nspool/driver/s3"
	"github.com/dmgrid/nsfabric/pkg/nsplugin/profiler"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
)

var logger = nslog.Get("cmd")

// buildManager composes the process-wide stack per the global flags: an
// INode backend (--meta URI), the Catalog decorator chain (Builtin, with
// --cache/--profile optionally wrapping it front-to-back as spec.md §8
// scenario 1 describes), the PoolManager, every PoolDriver, and the
// IODriver.
func buildManager(c *cli.Context) (*nsplugin.PluginManager, error) {
	pm := nsplugin.NewPluginManager()

	backend, err := nsinode.Open(c.String("meta"))
	if err != nil {
		return nil, err
	}

	pm.RegisterFactory(nsplugin.KindCatalog, func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			return nscatalog.WithProc(nscatalog.NewBuiltin(backend, 0)), nil
		})
	})

	if c.String("cache-redis") != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.String("cache-redis")})
		pm.RegisterFactory(nsplugin.KindCatalog, nscache.Factory(rdb, c.Int("cache-entries"), c.Duration("cache-ttl")))
	}
	if c.Bool("profile") {
		pm.RegisterFactory(nsplugin.KindCatalog, profiler.Factory())
	}

	secret := c.String("token-secret")
	ttl := c.Duration("token-ttl")
	pm.RegisterFactory(nsplugin.KindPoolManager, func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			return nspool.NewManager(secret, ttl), nil
		})
	})
	pm.RegisterFactory(nsplugin.PoolDriverKind("posix"), posix.Factory())
	pm.RegisterFactory(nsplugin.PoolDriverKind("s3"), s3.Factory())
	pm.RegisterFactory(nsplugin.PoolDriverKind("hdfs"), hdfs.Factory())

	pm.RegisterFactory(nsplugin.KindIODriver, func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			return nsio.NewBuiltin(secret), nil
		})
	})

	if cfg := c.String("config"); cfg != "" {
		f, err := os.Open(cfg)
		if err != nil {
			return nil, nserr.Wrap(nserr.NotFound, cfg, err)
		}
		defer f.Close()
		directives, err := nsconfig.Parse(f)
		if err != nil {
			return nil, err
		}
		if err := nsconfig.Apply(pm, directives); err != nil {
			return nil, err
		}
	}

	return pm, nil
}

// newStackInstance materialises a per-request StackInstance and installs a
// SecurityContext built from the command's --uid/--gid/--dn flags, per
// spec.md §3's "each thread acquires its own StackInstance".
func newStackInstance(pm *nsplugin.PluginManager, c *cli.Context) *nsplugin.StackInstance {
	si := nsplugin.NewStackInstance(pm)
	si.SetSecurityContext(&nssecurity.Context{
		User:   nssecurity.UserInfo{UID: c.Int("uid")},
		Groups: []nssecurity.GroupInfo{{GID: c.Int("gid")}},
		Credentials: nssecurity.Credentials{
			Mechanism: nssecurity.MechanismX509,
			ClientDN:  c.String("dn"),
		},
	})
	return si
}

func stackCatalog(c *cli.Context) (nscatalog.Catalog, *nsplugin.StackInstance, error) {
	pm, err := buildManager(c)
	if err != nil {
		return nil, nil, err
	}
	si := newStackInstance(pm, c)
	cat, err := nscatalog.FromStack(si)
	if err != nil {
		return nil, nil, err
	}
	return cat, si, nil
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "meta", Value: "memory://", Usage: "inode backend URI (memory://, sqlite://path, mysql://dsn)"},
		&cli.StringFlag{Name: "config", Usage: "path to a LoadPlugin/key-value config file"},
		&cli.BoolFlag{Name: "profile", Usage: "wrap the catalog with the call-counting profiler decorator"},
		&cli.StringFlag{Name: "cache-redis", Usage: "redis address for the distributed cache overlay"},
		&cli.IntFlag{Name: "cache-entries", Value: 4096, Usage: "local LRU capacity for the cache overlay"},
		&cli.DurationFlag{Name: "cache-ttl", Value: 30 * time.Second, Usage: "base remote TTL for the cache overlay"},
		&cli.StringFlag{Name: "token-secret", Value: "change-me", Usage: "HMAC secret shared by the pool manager and the I/O driver"},
		&cli.DurationFlag{Name: "token-ttl", Value: 5 * time.Minute, Usage: "capability token lifetime"},
		&cli.IntFlag{Name: "uid", Value: 0, Usage: "calling user's uid"},
		&cli.IntFlag{Name: "gid", Value: 0, Usage: "calling user's primary gid"},
		&cli.StringFlag{Name: "dn", Value: "", Usage: "calling user's X.509 subject DN"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
	}
}

func setLoggerLevel(c *cli.Context) {
	if c.Bool("verbose") || c.Bool("debug") {
		nslog.SetLevel(logrus.DebugLevel)
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		nslog.DisableColor()
	}
}
