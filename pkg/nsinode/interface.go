package nsinode

import (
	"context"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
)

// Dir is the opaque directory iterator handle of spec.md §4.7. Its
// validity ends with Close or the owning backend's teardown, whichever is
// first; handles are one-shot (no reset), and ReadDirx's returned pointer
// is invalidated by the next ReadDir*/Close call on the same handle — this
// implementation instead returns a fresh value each call (DESIGN NOTES
// "Directory iterator pointer aliasing": value-returning iteration was
// chosen over pointer-aliasing, and that choice is documented here rather
// than also supporting the pointer form).
type Dir interface {
	// ReadDir returns the next minimal entry, or ok=false at end of
	// directory or on error.
	ReadDir() (entry Entry, ok bool)
	// ReadDirx returns the next entry with full attributes.
	ReadDirx() (inode INode, ok bool)
	Close() error
}

// Tx brackets a multi-row mutation (spec.md §4.2 "Transactions"). On
// Rollback no visible state has changed.
type Tx interface {
	Commit() error
	Rollback() error
}

// Backend is the no-permission-check metadata backend interface. Concrete
// backends (in-memory, relational) implement this; the Catalog layer is
// built on top of it and adds path resolution and permission checks.
type Backend interface {
	Name() string

	Begin(ctx context.Context) (Tx, error)

	Create(ctx context.Context, parent Ino, name string, uid, gid int, mode uint16, size uint64, typ FileType, status FileStatus, csum Checksum, acl nsacl.ACL) (INode, error)
	Symlink(ctx context.Context, inode Ino, target string) error
	ReadLink(ctx context.Context, inode Ino) (string, error)
	Unlink(ctx context.Context, inode Ino) error
	Move(ctx context.Context, inode, newParent Ino) error
	Rename(ctx context.Context, inode Ino, newName string) error

	StatByIno(ctx context.Context, inode Ino) (INode, error)
	StatByName(ctx context.Context, parent Ino, name string) (INode, error)
	StatByGUID(ctx context.Context, guid string) (INode, error)

	AddReplica(ctx context.Context, r Replica) (Replica, error)
	UpdateReplica(ctx context.Context, r Replica) error
	DeleteReplica(ctx context.Context, replicaID uint64) error
	GetReplicas(ctx context.Context, fileID Ino) ([]Replica, error)
	GetReplica(ctx context.Context, pfn string) (Replica, error)

	Utime(ctx context.Context, inode Ino, atime, mtime int64) error
	SetMode(ctx context.Context, inode Ino, mode uint16) error
	SetOwner(ctx context.Context, inode Ino, uid, gid int) error
	SetSize(ctx context.Context, inode Ino, size uint64) error
	SetChecksum(ctx context.Context, inode Ino, csum Checksum) error
	SetGuid(ctx context.Context, inode Ino, guid string) error
	SetAcl(ctx context.Context, inode Ino, acl nsacl.ACL) error

	GetComment(ctx context.Context, inode Ino) (string, error)
	SetComment(ctx context.Context, inode Ino, comment string) error

	GetXattr(ctx context.Context, inode Ino, name string) (interface{}, bool, error)
	SetXattr(ctx context.Context, inode Ino, name string, value interface{}) error
	RemoveXattr(ctx context.Context, inode Ino, name string) error
	ListXattr(ctx context.Context, inode Ino) (map[string]interface{}, error)

	OpenDir(ctx context.Context, inode Ino) (Dir, error)
}
