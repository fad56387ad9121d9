// Package nscatalog implements the path-resolving, permission-checked
// namespace operations of spec.md §4.3, built on top of pkg/nsinode.
package nscatalog

import (
	"context"
	"strings"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
)

// MaxSymlinkDepth is the default limit on symlink-following during path
// resolution (spec.md §4.3 "followed up to a configured depth (default 3)").
const MaxSymlinkDepth = 3

// ExtendedStat bundles an INode with the path it was resolved from, the
// shape returned by extendedStat in dmlite's IDirectory.h.
type ExtendedStat struct {
	nsinode.INode
	Path string
}

// Catalog is the public, permission-checked namespace API. Decorators
// (cache, profiler) wrap a Catalog and must themselves satisfy it.
type Catalog interface {
	nsplugin.Component

	ExtendedStat(ctx context.Context, path string, followSym bool) (ExtendedStat, error)
	AddReplica(ctx context.Context, lfn string, r nsinode.Replica) (nsinode.Replica, error)
	DeleteReplica(ctx context.Context, lfn string, replicaID uint64) error
	GetReplicas(ctx context.Context, lfn string) ([]nsinode.Replica, error)

	MakeDir(ctx context.Context, path string, mode uint16) error
	Create(ctx context.Context, path string, mode uint16) error
	RemoveDir(ctx context.Context, path string) error
	Unlink(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Symlink(ctx context.Context, path, target string) error
	ReadLink(ctx context.Context, path string) (string, error)

	SetSize(ctx context.Context, path string, size uint64) error
	SetChecksum(ctx context.Context, path string, csum nsinode.Checksum) error
	SetMode(ctx context.Context, path string, mode uint16) error
	SetOwner(ctx context.Context, path string, uid, gid int) error
	Utime(ctx context.Context, path string, atime, mtime int64) error
	SetAcl(ctx context.Context, path string, acl nsacl.ACL) error
	GetComment(ctx context.Context, path string) (string, error)
	SetComment(ctx context.Context, path string, comment string) error
	SetGuid(ctx context.Context, path string, guid string) error

	GetXattr(ctx context.Context, path, name string) (interface{}, bool, error)
	SetXattr(ctx context.Context, path, name string, value interface{}) error
	RemoveXattr(ctx context.Context, path, name string) error
	ListXattr(ctx context.Context, path string) (map[string]interface{}, error)

	OpenDir(ctx context.Context, path string) (nsinode.Dir, error)
}

// Builtin is the reference Catalog implementation: path resolution and
// permission checks layered directly over an nsinode.Backend. Every
// decorator in this module (nscache, nsplugin/profiler) ultimately wraps
// an instance of this type or another Catalog.
type Builtin struct {
	si      *nsplugin.StackInstance
	backend nsinode.Backend
	symDepth int
}

// NewBuiltin constructs the base Catalog over backend. symDepth <= 0 uses
// MaxSymlinkDepth.
func NewBuiltin(backend nsinode.Backend, symDepth int) *Builtin {
	if symDepth <= 0 {
		symDepth = MaxSymlinkDepth
	}
	return &Builtin{backend: backend, symDepth: symDepth}
}

func (c *Builtin) ImplID() string { return "Builtin" }

func (c *Builtin) SetStackInstance(si *nsplugin.StackInstance) { c.si = si }

func (c *Builtin) ctx() nssecurity.Context {
	if c.si == nil || c.si.SecurityContext() == nil {
		return nssecurity.Context{}
	}
	return *c.si.SecurityContext()
}

func toSecStat(n nsinode.INode) nssecurity.Stat {
	return nssecurity.Stat{UID: n.Stat.UID, GID: n.Stat.GID, Mode: n.Stat.Mode}
}

func (c *Builtin) check(n nsinode.INode, requested uint8) error {
	return nssecurity.CheckPermissions(c.ctx(), n.ACL, toSecStat(n), requested)
}

// resolve walks path component by component from either the root or the
// StackInstance's cwd, following symlinks (bounded by symDepth) unless the
// final component and followSym == false. It returns the resolved INode
// plus its immediate parent, for callers that need both.
func (c *Builtin) resolve(ctx context.Context, path string, followSym bool) (node nsinode.INode, parent nsinode.INode, err error) {
	cwd := "/"
	if c.si != nil {
		cwd = c.si.Cwd()
	}
	if !strings.HasPrefix(path, "/") {
		path = joinPath(cwd, path)
	}
	return c.resolveFrom(ctx, nsinode.RootIno, splitPath(path), followSym, 0)
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func joinPath(base, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	if base == "/" {
		return "/" + rel
	}
	return base + "/" + rel
}

func (c *Builtin) resolveFrom(ctx context.Context, start nsinode.Ino, parts []string, followSym bool, depth int) (node nsinode.INode, parent nsinode.INode, err error) {
	cur, err := c.backend.StatByIno(ctx, start)
	if err != nil {
		return nsinode.INode{}, nsinode.INode{}, err
	}
	parent = cur

	for i, part := range parts {
		if err := c.check(cur, nssecurity.ModeExecute); err != nil {
			return nsinode.INode{}, nsinode.INode{}, err
		}

		var next nsinode.INode
		switch part {
		case ".":
			next = cur
		case "..":
			next, err = c.backend.StatByIno(ctx, cur.Parent)
			if err != nil {
				return nsinode.INode{}, nsinode.INode{}, err
			}
		default:
			next, err = c.backend.StatByName(ctx, cur.ID, part)
			if err != nil {
				return nsinode.INode{}, nsinode.INode{}, err
			}
		}

		isLast := i == len(parts)-1
		if next.Type == nsinode.TypeSymlink && (!isLast || followSym) {
			if depth >= c.symDepth {
				return nsinode.INode{}, nsinode.INode{}, nserr.New(nserr.TooManySymlinks, part)
			}
			target, err := c.backend.ReadLink(ctx, next.ID)
			if err != nil {
				return nsinode.INode{}, nsinode.INode{}, err
			}
			start := nsinode.RootIno
			restParts := parts[i+1:]
			var resolvedParts []string
			if strings.HasPrefix(target, "/") {
				resolvedParts = splitPath(target)
			} else {
				// relative symlink: resolve against cur, the directory holding the link
				start = cur.ID
				resolvedParts = splitPath(target)
			}
			resolvedParts = append(resolvedParts, restParts...)
			return c.resolveFrom(ctx, start, resolvedParts, followSym, depth+1)
		}

		parent = cur
		cur = next
	}
	return cur, parent, nil
}

func (c *Builtin) ExtendedStat(ctx context.Context, path string, followSym bool) (ExtendedStat, error) {
	n, _, err := c.resolve(ctx, path, followSym)
	if err != nil {
		return ExtendedStat{}, err
	}
	return ExtendedStat{INode: n, Path: path}, nil
}

func splitParentChild(path string) (parentPath, name string) {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ".", path
	}
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}

func (c *Builtin) resolveParentAndName(ctx context.Context, path string) (parent nsinode.INode, name string, err error) {
	parentPath, name := splitParentChild(path)
	if name == "" {
		return nsinode.INode{}, "", nserr.New(nserr.InvalidArgument, path)
	}
	parent, _, err = c.resolve(ctx, parentPath, true)
	return parent, name, err
}

func (c *Builtin) createEntry(ctx context.Context, path string, mode uint16, typ nsinode.FileType) error {
	parent, name, err := c.resolveParentAndName(ctx, path)
	if err != nil {
		return err
	}
	if err := c.check(parent, nssecurity.ModeWrite|nssecurity.ModeExecute); err != nil {
		return err
	}

	if c.si != nil {
		mode &^= c.si.Umask(-1)
	}
	acl, inheritedMode := nsacl.Inherit(parent.ACL, typ == nsinode.TypeDir, c.ctx().User.UID, c.ctx().PrimaryGroup().GID, mode)

	txn, err := c.backend.Begin(ctx)
	if err != nil {
		return err
	}
	_, err = c.backend.Create(ctx, parent.ID, name, c.ctx().User.UID, c.ctx().PrimaryGroup().GID, inheritedMode, 0, typ, nsinode.StatusOnline, nsinode.Checksum{}, acl)
	if err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

func (c *Builtin) MakeDir(ctx context.Context, path string, mode uint16) error {
	return c.createEntry(ctx, path, mode, nsinode.TypeDir)
}

func (c *Builtin) Create(ctx context.Context, path string, mode uint16) error {
	return c.createEntry(ctx, path, mode, nsinode.TypeFile)
}

func (c *Builtin) RemoveDir(ctx context.Context, path string) error {
	n, parent, err := c.resolve(ctx, path, false)
	if err != nil {
		return err
	}
	if !n.IsDir() {
		return nserr.New(nserr.NotDirectory, path)
	}
	if err := c.check(parent, nssecurity.ModeWrite|nssecurity.ModeExecute); err != nil {
		return err
	}
	return c.backend.Unlink(ctx, n.ID)
}

func (c *Builtin) Unlink(ctx context.Context, path string) error {
	n, parent, err := c.resolve(ctx, path, false)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return nserr.New(nserr.IsDirectory, path)
	}
	if err := c.check(parent, nssecurity.ModeWrite|nssecurity.ModeExecute); err != nil {
		return err
	}
	return c.backend.Unlink(ctx, n.ID)
}

func (c *Builtin) Rename(ctx context.Context, oldPath, newPath string) error {
	n, oldParent, err := c.resolve(ctx, oldPath, false)
	if err != nil {
		return err
	}
	newParent, newName, err := c.resolveParentAndName(ctx, newPath)
	if err != nil {
		return err
	}
	if n.IsDir() && isDescendant(n.ID, newParent.ID, ctx, c) {
		return nserr.New(nserr.InvalidArgument, "cannot move directory into its own descendant")
	}
	if err := c.check(oldParent, nssecurity.ModeWrite|nssecurity.ModeExecute); err != nil {
		return err
	}
	if err := c.check(newParent, nssecurity.ModeWrite|nssecurity.ModeExecute); err != nil {
		return err
	}

	txn, err := c.backend.Begin(ctx)
	if err != nil {
		return err
	}
	if newParent.ID != oldParent.ID {
		if err := c.backend.Move(ctx, n.ID, newParent.ID); err != nil {
			txn.Rollback()
			return err
		}
	}
	if newName != n.Name {
		if err := c.backend.Rename(ctx, n.ID, newName); err != nil {
			txn.Rollback()
			return err
		}
	}
	return txn.Commit()
}

func isDescendant(ancestor, candidate nsinode.Ino, ctx context.Context, c *Builtin) bool {
	for candidate != nsinode.RootIno {
		if candidate == ancestor {
			return true
		}
		n, err := c.backend.StatByIno(ctx, candidate)
		if err != nil {
			return false
		}
		if n.Parent == candidate {
			return false
		}
		candidate = n.Parent
	}
	return false
}

func (c *Builtin) Symlink(ctx context.Context, path, target string) error {
	parent, name, err := c.resolveParentAndName(ctx, path)
	if err != nil {
		return err
	}
	if err := c.check(parent, nssecurity.ModeWrite|nssecurity.ModeExecute); err != nil {
		return err
	}
	n, err := c.backend.Create(ctx, parent.ID, name, c.ctx().User.UID, c.ctx().PrimaryGroup().GID, 0o777, 0, nsinode.TypeSymlink, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	if err != nil {
		return err
	}
	return c.backend.Symlink(ctx, n.ID, target)
}

func (c *Builtin) ReadLink(ctx context.Context, path string) (string, error) {
	n, _, err := c.resolve(ctx, path, false)
	if err != nil {
		return "", err
	}
	if n.Type != nsinode.TypeSymlink {
		return "", nserr.New(nserr.InvalidArgument, path)
	}
	return c.backend.ReadLink(ctx, n.ID)
}

// canWriteFile enforces spec.md §4.3's "each enforce ownership or
// write-on-file" rule: root or the owning user always passes; otherwise
// a write permission check against the entry's ACL/mode is required.
func (c *Builtin) canWriteFile(n nsinode.INode) error {
	if c.ctx().IsRoot() || n.Stat.UID == c.ctx().User.UID {
		return nil
	}
	return c.check(n, nssecurity.ModeWrite)
}

func (c *Builtin) AddReplica(ctx context.Context, lfn string, r nsinode.Replica) (nsinode.Replica, error) {
	n, _, err := c.resolve(ctx, lfn, true)
	if err != nil {
		return nsinode.Replica{}, err
	}
	if err := c.check(n, nssecurity.ModeWrite); err != nil {
		return nsinode.Replica{}, err
	}
	r.FileID = n.ID
	return c.backend.AddReplica(ctx, r)
}

func (c *Builtin) DeleteReplica(ctx context.Context, lfn string, replicaID uint64) error {
	n, _, err := c.resolve(ctx, lfn, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.DeleteReplica(ctx, replicaID)
}

func (c *Builtin) GetReplicas(ctx context.Context, lfn string) ([]nsinode.Replica, error) {
	n, _, err := c.resolve(ctx, lfn, true)
	if err != nil {
		return nil, err
	}
	if err := c.check(n, nssecurity.ModeRead); err != nil {
		return nil, err
	}
	return c.backend.GetReplicas(ctx, n.ID)
}

func (c *Builtin) SetSize(ctx context.Context, path string, size uint64) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.SetSize(ctx, n.ID, size)
}

func (c *Builtin) SetChecksum(ctx context.Context, path string, csum nsinode.Checksum) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.SetChecksum(ctx, n.ID, csum)
}

func (c *Builtin) SetMode(ctx context.Context, path string, mode uint16) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.SetMode(ctx, n.ID, mode)
}

func (c *Builtin) SetOwner(ctx context.Context, path string, uid, gid int) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	// spec.md §4.3: "only root may setOwner across users".
	if uid >= 0 && uid != n.Stat.UID && !c.ctx().IsRoot() {
		return nserr.New(nserr.Permission, path)
	}
	if !c.ctx().IsRoot() {
		if err := c.canWriteFile(n); err != nil {
			return err
		}
	}
	return c.backend.SetOwner(ctx, n.ID, uid, gid)
}

func (c *Builtin) Utime(ctx context.Context, path string, atime, mtime int64) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.Utime(ctx, n.ID, atime, mtime)
}

func (c *Builtin) SetAcl(ctx context.Context, path string, acl nsacl.ACL) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.SetAcl(ctx, n.ID, acl)
}

func (c *Builtin) GetComment(ctx context.Context, path string) (string, error) {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return "", err
	}
	if err := c.check(n, nssecurity.ModeRead); err != nil {
		return "", err
	}
	return c.backend.GetComment(ctx, n.ID)
}

func (c *Builtin) SetComment(ctx context.Context, path string, comment string) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.SetComment(ctx, n.ID, comment)
}

func (c *Builtin) SetGuid(ctx context.Context, path string, guid string) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.SetGuid(ctx, n.ID, guid)
}

func (c *Builtin) GetXattr(ctx context.Context, path, name string) (interface{}, bool, error) {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return nil, false, err
	}
	if err := c.check(n, nssecurity.ModeRead); err != nil {
		return nil, false, err
	}
	return c.backend.GetXattr(ctx, n.ID, name)
}

func (c *Builtin) SetXattr(ctx context.Context, path, name string, value interface{}) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.SetXattr(ctx, n.ID, name, value)
}

func (c *Builtin) RemoveXattr(ctx context.Context, path, name string) error {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return err
	}
	if err := c.canWriteFile(n); err != nil {
		return err
	}
	return c.backend.RemoveXattr(ctx, n.ID, name)
}

func (c *Builtin) ListXattr(ctx context.Context, path string) (map[string]interface{}, error) {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return nil, err
	}
	if err := c.check(n, nssecurity.ModeRead); err != nil {
		return nil, err
	}
	return c.backend.ListXattr(ctx, n.ID)
}

func (c *Builtin) OpenDir(ctx context.Context, path string) (nsinode.Dir, error) {
	n, _, err := c.resolve(ctx, path, true)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, nserr.New(nserr.NotDirectory, path)
	}
	if err := c.check(n, nssecurity.ModeRead|nssecurity.ModeExecute); err != nil {
		return nil, err
	}
	return c.backend.OpenDir(ctx, n.ID)
}

// FromStack type-asserts the StackInstance's current front-of-list Catalog
// component, the pattern every consumer (cmd/, nsio) uses to recover a
// typed Catalog from the generic nsplugin.Component registry.
func FromStack(si *nsplugin.StackInstance) (Catalog, error) {
	c, err := si.Get(nsplugin.KindCatalog)
	if err != nil {
		return nil, err
	}
	cat, ok := c.(Catalog)
	if !ok {
		return nil, nserr.New(nserr.Internal, "registered catalog factory does not implement nscatalog.Catalog")
	}
	return cat, nil
}
