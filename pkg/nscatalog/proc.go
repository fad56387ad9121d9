package nscatalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
)

// procRoot, procStack, procWhoami are the synthetic inode numbers of the
// /proc-like introspection tree (spec.md §4.8). They live outside the
// ordinary inode space so a real backend never collides with them.
const (
	procRoot   nsinode.Ino = 1<<63 | 1
	procStack  nsinode.Ino = 1<<63 | 2
	procWhoami nsinode.Ino = 1<<63 | 3
)

// ProcCatalog decorates an inner Catalog, intercepting any path under
// /proc and answering it from the StackInstance's live state instead of
// delegating. Everything else passes straight through.
type ProcCatalog struct {
	Catalog
	si *nsplugin.StackInstance
}

// WithProc wraps inner with the /proc virtual tree.
func WithProc(inner Catalog) *ProcCatalog {
	return &ProcCatalog{Catalog: inner}
}

func (p *ProcCatalog) ImplID() string { return "Proc over " + p.Catalog.ImplID() }

func (p *ProcCatalog) SetStackInstance(si *nsplugin.StackInstance) {
	p.si = si
	if sa, ok := p.Catalog.(interface {
		SetStackInstance(*nsplugin.StackInstance)
	}); ok {
		sa.SetStackInstance(si)
	}
}

func isProcPath(path string) bool {
	return path == "/proc" || strings.HasPrefix(path, "/proc/")
}

func (p *ProcCatalog) procContent(path string) (string, bool) {
	switch path {
	case "/proc/stack":
		if p.si == nil {
			return "", true
		}
		var b strings.Builder
		for _, k := range []nsplugin.Kind{nsplugin.KindAuthn, nsplugin.KindINode, nsplugin.KindCatalog, nsplugin.KindPoolManager, nsplugin.KindIODriver} {
			c, err := p.si.Get(k)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", k, c.ImplID())
		}
		return b.String(), true
	case "/proc/whoami":
		if p.si == nil || p.si.SecurityContext() == nil {
			return "(no security context)\n", true
		}
		ctx := p.si.SecurityContext()
		return fmt.Sprintf("uid=%d(%s) gid=%d(%s) dn=%q\n",
			ctx.User.UID, ctx.User.Name, ctx.PrimaryGroup().GID, ctx.PrimaryGroup().Name,
			ctx.Credentials.ClientDN), true
	}
	return "", false
}

func (p *ProcCatalog) ExtendedStat(ctx context.Context, path string, followSym bool) (ExtendedStat, error) {
	if !isProcPath(path) {
		return p.Catalog.ExtendedStat(ctx, path, followSym)
	}
	now := time.Now()
	switch path {
	case "/proc":
		return ExtendedStat{Path: path, INode: nsinode.INode{ID: procRoot, Type: nsinode.TypeDir,
			Stat: nsinode.Stat{Mode: 0o555, Nlink: 2, Atime: now, Mtime: now, Ctime: now}}}, nil
	case "/proc/stack", "/proc/whoami":
		content, ok := p.procContent(path)
		if !ok {
			return ExtendedStat{}, nserr.New(nserr.NotFound, path)
		}
		ino := procStack
		if path == "/proc/whoami" {
			ino = procWhoami
		}
		return ExtendedStat{Path: path, INode: nsinode.INode{ID: ino, Parent: procRoot, Type: nsinode.TypeFile,
			Stat: nsinode.Stat{Mode: 0o444, Nlink: 1, Size: uint64(len(content)), Atime: now, Mtime: now, Ctime: now}}}, nil
	}
	return ExtendedStat{}, nserr.New(nserr.NotFound, path)
}

// ReadProcFile returns the rendered content of a /proc file, for the
// IODriver to serve as a bounded byte stream (spec.md §4.8 "Files are
// readable via the IODriver which returns the serialised content").
func (p *ProcCatalog) ReadProcFile(path string) (string, error) {
	content, ok := p.procContent(path)
	if !ok {
		return "", nserr.New(nserr.NotFound, path)
	}
	return content, nil
}

type procDir struct {
	entries []nsinode.Entry
	pos     int
}

func (d *procDir) ReadDir() (nsinode.Entry, bool) {
	if d.pos >= len(d.entries) {
		return nsinode.Entry{}, false
	}
	e := d.entries[d.pos]
	d.pos++
	return e, true
}

func (d *procDir) ReadDirx() (nsinode.INode, bool) {
	e, ok := d.ReadDir()
	if !ok {
		return nsinode.INode{}, false
	}
	return nsinode.INode{ID: e.Ino, Name: e.Name, Parent: procRoot, Type: nsinode.TypeFile,
		Stat: nsinode.Stat{Mode: 0o444}}, true
}

func (d *procDir) Close() error { return nil }

func (p *ProcCatalog) OpenDir(ctx context.Context, path string) (nsinode.Dir, error) {
	if path != "/proc" {
		return p.Catalog.OpenDir(ctx, path)
	}
	return &procDir{entries: []nsinode.Entry{
		{Name: "stack", Ino: procStack},
		{Name: "whoami", Ino: procWhoami},
	}}, nil
}
