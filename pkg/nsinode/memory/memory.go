// Package memory is a reference in-memory nsinode.INode backend: useful
// for tests and for small deployments, and a template for how a
// transactional backend must uphold spec.md §3 invariants 1–4.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nslog"
)

var logger = nslog.Get("nsinode.memory")

// Backend is a mutex-guarded, map-based nsinode.INode. A transaction holds
// txMu from Begin until Commit or Rollback, so at most one transaction runs
// at a time; each operation, including one issued inside a transaction,
// takes mu for its own duration. Rollback restores the snapshot taken at
// Begin, which also discards changes made outside the transaction since.
type Backend struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	inodes    map[nsinode.Ino]*nsinode.INode
	children  map[nsinode.Ino]map[string]nsinode.Ino // parent -> name -> ino
	replicas  map[uint64]*nsinode.Replica
	byFile    map[nsinode.Ino]map[uint64]bool
	byPFN     map[string]uint64
	byGUID    map[string]nsinode.Ino
	links     map[nsinode.Ino]string // symlink target
	nextIno   nsinode.Ino
	nextRepID uint64
}

func New() *Backend {
	b := &Backend{
		inodes:   make(map[nsinode.Ino]*nsinode.INode),
		children: make(map[nsinode.Ino]map[string]nsinode.Ino),
		replicas: make(map[uint64]*nsinode.Replica),
		byFile:   make(map[nsinode.Ino]map[uint64]bool),
		byPFN:    make(map[string]uint64),
		byGUID:   make(map[string]nsinode.Ino),
		links:    make(map[nsinode.Ino]string),
		nextIno:  nsinode.RootIno + 1,
	}
	now := time.Now()
	root := &nsinode.INode{
		ID:     nsinode.RootIno,
		Parent: nsinode.RootIno,
		Name:   "/",
		Type:   nsinode.TypeDir,
		Stat:   nsinode.Stat{Mode: 0o755, Nlink: 2, Atime: now, Mtime: now, Ctime: now},
		GUID:   uuid.NewString(),
	}
	b.inodes[nsinode.RootIno] = root
	b.children[nsinode.RootIno] = make(map[string]nsinode.Ino)
	return b
}

func (b *Backend) Name() string { return "memory" }

// tx is a no-op beyond holding the backend's transaction lock for its
// lifetime; Rollback restores a deep-enough snapshot taken at Begin to undo
// visible changes.
type tx struct {
	b        *Backend
	snapshot *Backend
	done     bool
}

func (b *Backend) Begin(ctx context.Context) (nsinode.Tx, error) {
	b.txMu.Lock()
	b.mu.Lock()
	defer b.mu.Unlock()
	return &tx{b: b, snapshot: b.clone()}, nil
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.b.txMu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.b.mu.Lock()
	t.b.restore(t.snapshot)
	t.b.mu.Unlock()
	t.b.txMu.Unlock()
	return nil
}

// clone makes a deep-enough copy for rollback. Called with mu held.
func (b *Backend) clone() *Backend {
	c := &Backend{
		inodes:   make(map[nsinode.Ino]*nsinode.INode, len(b.inodes)),
		children: make(map[nsinode.Ino]map[string]nsinode.Ino, len(b.children)),
		replicas: make(map[uint64]*nsinode.Replica, len(b.replicas)),
		byFile:   make(map[nsinode.Ino]map[uint64]bool, len(b.byFile)),
		byPFN:    make(map[string]uint64, len(b.byPFN)),
		byGUID:   make(map[string]nsinode.Ino, len(b.byGUID)),
		links:    make(map[nsinode.Ino]string, len(b.links)),
		nextIno:  b.nextIno,
		nextRepID: b.nextRepID,
	}
	for k, v := range b.inodes {
		cp := *v
		c.inodes[k] = &cp
	}
	for k, v := range b.children {
		m := make(map[string]nsinode.Ino, len(v))
		for n, i := range v {
			m[n] = i
		}
		c.children[k] = m
	}
	for k, v := range b.replicas {
		cp := *v
		c.replicas[k] = &cp
	}
	for k, v := range b.byFile {
		m := make(map[uint64]bool, len(v))
		for i, ok := range v {
			m[i] = ok
		}
		c.byFile[k] = m
	}
	for k, v := range b.byPFN {
		c.byPFN[k] = v
	}
	for k, v := range b.byGUID {
		c.byGUID[k] = v
	}
	for k, v := range b.links {
		c.links[k] = v
	}
	return c
}

func (b *Backend) restore(s *Backend) {
	b.inodes = s.inodes
	b.children = s.children
	b.replicas = s.replicas
	b.byFile = s.byFile
	b.byPFN = s.byPFN
	b.byGUID = s.byGUID
	b.links = s.links
	b.nextIno = s.nextIno
	b.nextRepID = s.nextRepID
}

func (b *Backend) Create(ctx context.Context, parent nsinode.Ino, name string, uid, gid int, mode uint16, size uint64, typ nsinode.FileType, status nsinode.FileStatus, csum nsinode.Checksum, acl nsacl.ACL) (nsinode.INode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inodes[parent]; !ok {
		return nsinode.INode{}, nserr.New(nserr.NotFound, "parent")
	}
	kids := b.children[parent]
	if kids == nil {
		kids = make(map[string]nsinode.Ino)
		b.children[parent] = kids
	}
	if _, exists := kids[name]; exists {
		return nsinode.INode{}, nserr.New(nserr.Exists, name)
	}

	now := time.Now()
	ino := b.nextIno
	b.nextIno++
	n := &nsinode.INode{
		ID:     ino,
		Parent: parent,
		Name:   name,
		Type:   typ,
		Stat: nsinode.Stat{
			Mode: mode, UID: uid, GID: gid, Size: size,
			Atime: now, Mtime: now, Ctime: now, Nlink: 1,
		},
		Status:   status,
		GUID:     uuid.NewString(),
		Checksum: csum,
		ACL:      acl,
	}
	if typ == nsinode.TypeDir {
		n.Stat.Nlink = 2
		b.children[ino] = make(map[string]nsinode.Ino)
	}
	b.inodes[ino] = n
	b.byGUID[n.GUID] = ino
	kids[name] = ino
	logger.Debugf("create inode %d under %d as %q", ino, parent, name)
	return *n, nil
}

func (b *Backend) Symlink(ctx context.Context, inode nsinode.Ino, target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inodes[inode]; !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	b.links[inode] = target
	return nil
}

func (b *Backend) ReadLink(ctx context.Context, inode nsinode.Ino) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.links[inode]
	if !ok {
		return "", nserr.New(nserr.NotFound, "symlink")
	}
	return t, nil
}

func (b *Backend) Unlink(ctx context.Context, inode nsinode.Ino) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	if n.IsDir() && len(b.children[inode]) > 0 {
		return nserr.New(nserr.IsDirectory, "non-empty directory")
	}
	if !n.IsDir() {
		for id := range b.byFile[inode] {
			if r := b.replicas[id]; r != nil && r.Status != nsinode.ReplicaBeingDeleted {
				return nserr.New(nserr.Internal, "file has replicas")
			}
		}
	}
	delete(b.children[n.Parent], n.Name)
	delete(b.children, inode)
	delete(b.inodes, inode)
	delete(b.byGUID, n.GUID)
	delete(b.links, inode)
	return nil
}

func (b *Backend) Move(ctx context.Context, inode, newParent nsinode.Ino) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	if _, ok := b.inodes[newParent]; !ok {
		return nserr.New(nserr.NotFound, "new parent")
	}
	if _, exists := b.children[newParent][n.Name]; exists {
		return nserr.New(nserr.Exists, n.Name)
	}
	delete(b.children[n.Parent], n.Name)
	if b.children[newParent] == nil {
		b.children[newParent] = make(map[string]nsinode.Ino)
	}
	b.children[newParent][n.Name] = inode
	n.Parent = newParent
	return nil
}

func (b *Backend) Rename(ctx context.Context, inode nsinode.Ino, newName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	if _, exists := b.children[n.Parent][newName]; exists {
		return nserr.New(nserr.Exists, newName)
	}
	delete(b.children[n.Parent], n.Name)
	b.children[n.Parent][newName] = inode
	n.Name = newName
	return nil
}

func (b *Backend) StatByIno(ctx context.Context, inode nsinode.Ino) (nsinode.INode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nsinode.INode{}, nserr.New(nserr.NotFound, "inode")
	}
	return *n, nil
}

func (b *Backend) StatByName(ctx context.Context, parent nsinode.Ino, name string) (nsinode.INode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ino, ok := b.children[parent][name]
	if !ok {
		return nsinode.INode{}, nserr.New(nserr.NotFound, name)
	}
	return *b.inodes[ino], nil
}

func (b *Backend) StatByGUID(ctx context.Context, guid string) (nsinode.INode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ino, ok := b.byGUID[guid]
	if !ok {
		return nsinode.INode{}, nserr.New(nserr.NotFound, guid)
	}
	return *b.inodes[ino], nil
}

func (b *Backend) AddReplica(ctx context.Context, r nsinode.Replica) (nsinode.Replica, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inodes[r.FileID]; !ok {
		return nsinode.Replica{}, nserr.New(nserr.NotFound, "fileid")
	}
	b.nextRepID++
	r.ID = b.nextRepID
	r.CreateTime = time.Now()
	cp := r
	b.replicas[r.ID] = &cp
	if b.byFile[r.FileID] == nil {
		b.byFile[r.FileID] = make(map[uint64]bool)
	}
	b.byFile[r.FileID][r.ID] = true
	b.byPFN[r.PFN] = r.ID
	return r, nil
}

func (b *Backend) UpdateReplica(ctx context.Context, r nsinode.Replica) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.replicas[r.ID]; !ok {
		return nserr.New(nserr.NotFound, "replica")
	}
	cp := r
	b.replicas[r.ID] = &cp
	b.byPFN[r.PFN] = r.ID
	return nil
}

func (b *Backend) DeleteReplica(ctx context.Context, replicaID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.replicas[replicaID]
	if !ok {
		return nserr.New(nserr.NotFound, "replica")
	}
	delete(b.byFile[r.FileID], replicaID)
	delete(b.byPFN, r.PFN)
	delete(b.replicas, replicaID)
	return nil
}

func (b *Backend) GetReplicas(ctx context.Context, fileID nsinode.Ino) ([]nsinode.Replica, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []nsinode.Replica
	for id := range b.byFile[fileID] {
		out = append(out, *b.replicas[id])
	}
	return out, nil
}

func (b *Backend) GetReplica(ctx context.Context, pfn string) (nsinode.Replica, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byPFN[pfn]
	if !ok {
		return nsinode.Replica{}, nserr.New(nserr.NotFound, pfn)
	}
	return *b.replicas[id], nil
}

func (b *Backend) Utime(ctx context.Context, inode nsinode.Ino, atime, mtime int64) error {
	return b.mutate(inode, func(n *nsinode.INode) {
		if atime >= 0 {
			n.Stat.Atime = time.Unix(atime, 0)
		}
		if mtime >= 0 {
			n.Stat.Mtime = time.Unix(mtime, 0)
		}
	})
}

func (b *Backend) SetMode(ctx context.Context, inode nsinode.Ino, mode uint16) error {
	return b.mutate(inode, func(n *nsinode.INode) { n.Stat.Mode = mode })
}

func (b *Backend) SetOwner(ctx context.Context, inode nsinode.Ino, uid, gid int) error {
	return b.mutate(inode, func(n *nsinode.INode) {
		if uid >= 0 {
			n.Stat.UID = uid
		}
		if gid >= 0 {
			n.Stat.GID = gid
		}
	})
}

func (b *Backend) SetSize(ctx context.Context, inode nsinode.Ino, size uint64) error {
	return b.mutate(inode, func(n *nsinode.INode) { n.Stat.Size = size })
}

func (b *Backend) SetChecksum(ctx context.Context, inode nsinode.Ino, csum nsinode.Checksum) error {
	return b.mutate(inode, func(n *nsinode.INode) { n.Checksum = csum })
}

func (b *Backend) SetGuid(ctx context.Context, inode nsinode.Ino, guid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	delete(b.byGUID, n.GUID)
	n.GUID = guid
	b.byGUID[guid] = inode
	return nil
}

func (b *Backend) SetAcl(ctx context.Context, inode nsinode.Ino, acl nsacl.ACL) error {
	if err := acl.Validate(); err != nil {
		return err
	}
	return b.mutate(inode, func(n *nsinode.INode) { n.ACL = acl })
}

func (b *Backend) GetComment(ctx context.Context, inode nsinode.Ino) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return "", nserr.New(nserr.NotFound, "inode")
	}
	return n.Comment, nil
}

func (b *Backend) SetComment(ctx context.Context, inode nsinode.Ino, comment string) error {
	return b.mutate(inode, func(n *nsinode.INode) { n.Comment = comment })
}

func (b *Backend) GetXattr(ctx context.Context, inode nsinode.Ino, name string) (interface{}, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nil, false, nserr.New(nserr.NotFound, "inode")
	}
	v, ok := n.Xattrs.Get(name)
	return v, ok, nil
}

func (b *Backend) SetXattr(ctx context.Context, inode nsinode.Ino, name string, value interface{}) error {
	return b.mutate(inode, func(n *nsinode.INode) {
		if n.Xattrs == nil {
			n.Xattrs = make(map[string]interface{})
		}
		n.Xattrs.Set(name, value)
	})
}

func (b *Backend) RemoveXattr(ctx context.Context, inode nsinode.Ino, name string) error {
	return b.mutate(inode, func(n *nsinode.INode) {
		if n.Xattrs != nil {
			n.Xattrs.Delete(name)
		}
	})
}

func (b *Backend) ListXattr(ctx context.Context, inode nsinode.Ino) (map[string]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nil, nserr.New(nserr.NotFound, "inode")
	}
	return n.Xattrs.Clone(), nil
}

func (b *Backend) mutate(inode nsinode.Ino, f func(n *nsinode.INode)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	f(n)
	n.Stat.Ctime = time.Now()
	return nil
}

// dirIter is a one-shot directory iterator: it snapshots the child list at
// OpenDir time (spec.md §4.7 "Enumeration order is unspecified but stable
// within a single open").
type dirIter struct {
	b       *Backend
	entries []nsinode.Entry
	pos     int
	closed  bool
}

func (b *Backend) OpenDir(ctx context.Context, inode nsinode.Ino) (nsinode.Dir, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.inodes[inode]
	if !ok {
		return nil, nserr.New(nserr.NotFound, "inode")
	}
	if !n.IsDir() {
		return nil, nserr.New(nserr.NotDirectory, "inode")
	}
	kids := b.children[inode]
	entries := make([]nsinode.Entry, 0, len(kids))
	for name, ino := range kids {
		entries = append(entries, nsinode.Entry{Name: name, Ino: ino})
	}
	return &dirIter{b: b, entries: entries}, nil
}

func (d *dirIter) ReadDir() (nsinode.Entry, bool) {
	if d.closed || d.pos >= len(d.entries) {
		return nsinode.Entry{}, false
	}
	e := d.entries[d.pos]
	d.pos++
	return e, true
}

func (d *dirIter) ReadDirx() (nsinode.INode, bool) {
	e, ok := d.ReadDir()
	if !ok {
		return nsinode.INode{}, false
	}
	d.b.mu.Lock()
	n, ok := d.b.inodes[e.Ino]
	d.b.mu.Unlock()
	if !ok {
		return nsinode.INode{}, false
	}
	return *n, true
}

func (d *dirIter) Close() error {
	d.closed = true
	d.entries = nil
	return nil
}
