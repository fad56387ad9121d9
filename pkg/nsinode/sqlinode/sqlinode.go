// Package sqlinode is a relational nsinode.Backend built on xorm, in the
// spirit of dmlite's mysql plugin (original_source
// plugins/mysql/Queries.cpp) and of juicefs's xorm-backed SQL meta engine
// (pkg/meta, go.mod require xorm.io/xorm). New accepts an engine for any
// xorm driver; register.go imports mysql (go-sql-driver/mysql) and sqlite
// (mattn/go-sqlite3) and registers their URI schemes.
package sqlinode

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"xorm.io/xorm"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nslog"
)

var logger = nslog.Get("nsinode.sqlinode")

type inodeRow struct {
	ID            int64  `xorm:"pk autoincr 'id'"`
	Parent        int64  `xorm:"index"`
	Name          string `xorm:"varchar(255)"`
	Type          int8
	Mode          int
	UID           int
	GID           int
	Size          int64
	Atime         int64
	Mtime         int64
	Ctime         int64
	Nlink         int
	Status        int8
	GUID          string `xorm:"varchar(64) unique"`
	ChecksumType  string `xorm:"varchar(16)"`
	ChecksumValue string `xorm:"varchar(128)"`
	ACL           string `xorm:"text"`
	Comment       string `xorm:"text"`
	SymlinkTarget string `xorm:"text"`
}

func (inodeRow) TableName() string { return "nsinodes" }

type xattrRow struct {
	Ino   int64  `xorm:"index 'ino'"`
	Name  string `xorm:"varchar(255)"`
	Value string `xorm:"text"`
}

func (xattrRow) TableName() string { return "nsxattrs" }

type replicaRow struct {
	ID          int64  `xorm:"pk autoincr 'id'"`
	FileID      int64  `xorm:"index"`
	StorageType int8
	Status      int8
	Server      string `xorm:"varchar(255)"`
	PFN         string `xorm:"varchar(1024) unique"`
	Pool        string `xorm:"varchar(255)"`
	FSTag       string `xorm:"varchar(64)"`
	AccessCnt   int64
	CreateTime  int64
	AccessTime  int64
	PinTime     int64
	LifeTime    int64
	Extra       string `xorm:"text"`
}

func (replicaRow) TableName() string { return "nsreplicas" }

// Backend is an xorm.Engine-backed nsinode.Backend.
type Backend struct {
	engine *xorm.Engine
}

// New opens schema on an already-constructed engine (the caller chooses the
// driver and DSN — mysql, sqlite3, ...) and syncs the table definitions.
func New(engine *xorm.Engine) (*Backend, error) {
	if err := engine.Sync2(new(inodeRow), new(xattrRow), new(replicaRow)); err != nil {
		return nil, nserr.Wrap(nserr.Internal, "schema sync", err)
	}
	b := &Backend{engine: engine}
	var count int64
	count, err := engine.Count(new(inodeRow))
	if err != nil {
		return nil, nserr.Wrap(nserr.Internal, "count inodes", err)
	}
	if count == 0 {
		now := time.Now().Unix()
		root := &inodeRow{
			ID: int64(nsinode.RootIno), Parent: int64(nsinode.RootIno), Name: "/",
			Type: int8(nsinode.TypeDir), Mode: 0o755, Nlink: 2,
			Atime: now, Mtime: now, Ctime: now, GUID: "root",
		}
		if _, err := engine.Insert(root); err != nil {
			return nil, nserr.Wrap(nserr.Internal, "seed root", err)
		}
	}
	return b, nil
}

func (b *Backend) Name() string { return "sql" }

type tx struct{ sess *xorm.Session }

func (b *Backend) Begin(ctx context.Context) (nsinode.Tx, error) {
	sess := b.engine.NewSession()
	sess = sess.Context(ctx)
	if err := sess.Begin(); err != nil {
		sess.Close()
		return nil, nserr.Wrap(nserr.Internal, "begin", err)
	}
	return &tx{sess: sess}, nil
}

func (t *tx) Commit() error {
	defer t.sess.Close()
	if err := t.sess.Commit(); err != nil {
		return nserr.Wrap(nserr.Internal, "commit", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	defer t.sess.Close()
	if err := t.sess.Rollback(); err != nil {
		return nserr.Wrap(nserr.Internal, "rollback", err)
	}
	return nil
}

func rowToINode(r *inodeRow) nsinode.INode {
	n := nsinode.INode{
		ID:     nsinode.Ino(r.ID),
		Parent: nsinode.Ino(r.Parent),
		Name:   r.Name,
		Type:   nsinode.FileType(r.Type),
		Stat: nsinode.Stat{
			Mode: uint16(r.Mode), UID: r.UID, GID: r.GID, Size: uint64(r.Size),
			Atime: time.Unix(r.Atime, 0), Mtime: time.Unix(r.Mtime, 0), Ctime: time.Unix(r.Ctime, 0),
			Nlink: uint32(r.Nlink),
		},
		Status:   nsinode.FileStatus(r.Status),
		GUID:     r.GUID,
		Checksum: nsinode.Checksum{Type: r.ChecksumType, Value: r.ChecksumValue},
		Comment:  r.Comment,
	}
	if r.ACL != "" {
		acl, err := nsacl.Deserialize(r.ACL)
		if err == nil {
			n.ACL = acl
		}
	}
	return n
}

func (b *Backend) Create(ctx context.Context, parent nsinode.Ino, name string, uid, gid int, mode uint16, size uint64, typ nsinode.FileType, status nsinode.FileStatus, csum nsinode.Checksum, acl nsacl.ACL) (nsinode.INode, error) {
	var existing inodeRow
	ok, err := b.engine.Context(ctx).Where("parent = ? AND name = ?", int64(parent), name).Get(&existing)
	if err != nil {
		return nsinode.INode{}, nserr.Wrap(nserr.Internal, "lookup", err)
	}
	if ok {
		return nsinode.INode{}, nserr.New(nserr.Exists, name)
	}

	now := time.Now().Unix()
	nlink := uint32(1)
	if typ == nsinode.TypeDir {
		nlink = 2
	}
	row := &inodeRow{
		Parent: int64(parent), Name: name, Type: int8(typ), Mode: int(mode),
		UID: uid, GID: gid, Size: int64(size), Atime: now, Mtime: now, Ctime: now,
		Nlink: int(nlink), Status: int8(status), GUID: uuid.NewString(),
		ChecksumType: csum.Type, ChecksumValue: csum.Value, ACL: acl.Serialize(),
	}
	if _, err := b.engine.Context(ctx).Insert(row); err != nil {
		return nsinode.INode{}, nserr.Wrap(nserr.Internal, "insert", err)
	}
	logger.Debugf("created inode %d under %d as %q", row.ID, parent, name)
	return rowToINode(row), nil
}

func (b *Backend) Symlink(ctx context.Context, inode nsinode.Ino, target string) error {
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols("symlink_target").Update(&inodeRow{SymlinkTarget: target})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "symlink", err)
	}
	return nil
}

func (b *Backend) ReadLink(ctx context.Context, inode nsinode.Ino) (string, error) {
	var row inodeRow
	ok, err := b.engine.Context(ctx).ID(int64(inode)).Get(&row)
	if err != nil {
		return "", nserr.Wrap(nserr.Internal, "readlink", err)
	}
	if !ok || row.SymlinkTarget == "" {
		return "", nserr.New(nserr.NotFound, "symlink")
	}
	return row.SymlinkTarget, nil
}

func (b *Backend) Unlink(ctx context.Context, inode nsinode.Ino) error {
	var row inodeRow
	ok, err := b.engine.Context(ctx).ID(int64(inode)).Get(&row)
	if err != nil {
		return nserr.Wrap(nserr.Internal, "lookup", err)
	}
	if !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	if row.Type == int8(nsinode.TypeDir) {
		n, err := b.engine.Context(ctx).Where("parent = ?", row.ID).Count(new(inodeRow))
		if err != nil {
			return nserr.Wrap(nserr.Internal, "count children", err)
		}
		if n > 0 {
			return nserr.New(nserr.IsDirectory, "non-empty directory")
		}
	}
	if _, err := b.engine.Context(ctx).ID(row.ID).Delete(new(inodeRow)); err != nil {
		return nserr.Wrap(nserr.Internal, "delete", err)
	}
	if _, err := b.engine.Context(ctx).Where("ino = ?", row.ID).Delete(new(xattrRow)); err != nil {
		return nserr.Wrap(nserr.Internal, "delete xattrs", err)
	}
	return nil
}

func (b *Backend) Move(ctx context.Context, inode, newParent nsinode.Ino) error {
	var row inodeRow
	ok, err := b.engine.Context(ctx).ID(int64(inode)).Get(&row)
	if err != nil || !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	existing, err := b.engine.Context(ctx).Where("parent = ? AND name = ?", int64(newParent), row.Name).Count(new(inodeRow))
	if err != nil {
		return nserr.Wrap(nserr.Internal, "lookup", err)
	}
	if existing > 0 {
		return nserr.New(nserr.Exists, row.Name)
	}
	_, err = b.engine.Context(ctx).ID(int64(inode)).Cols("parent").Update(&inodeRow{Parent: int64(newParent)})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "move", err)
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, inode nsinode.Ino, newName string) error {
	var row inodeRow
	ok, err := b.engine.Context(ctx).ID(int64(inode)).Get(&row)
	if err != nil || !ok {
		return nserr.New(nserr.NotFound, "inode")
	}
	existing, err := b.engine.Context(ctx).Where("parent = ? AND name = ?", row.Parent, newName).Count(new(inodeRow))
	if err != nil {
		return nserr.Wrap(nserr.Internal, "lookup", err)
	}
	if existing > 0 {
		return nserr.New(nserr.Exists, newName)
	}
	_, err = b.engine.Context(ctx).ID(int64(inode)).Cols("name").Update(&inodeRow{Name: newName})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "rename", err)
	}
	return nil
}

func (b *Backend) StatByIno(ctx context.Context, inode nsinode.Ino) (nsinode.INode, error) {
	var row inodeRow
	ok, err := b.engine.Context(ctx).ID(int64(inode)).Get(&row)
	if err != nil {
		return nsinode.INode{}, nserr.Wrap(nserr.Internal, "stat", err)
	}
	if !ok {
		return nsinode.INode{}, nserr.New(nserr.NotFound, "inode")
	}
	return rowToINode(&row), nil
}

func (b *Backend) StatByName(ctx context.Context, parent nsinode.Ino, name string) (nsinode.INode, error) {
	var row inodeRow
	ok, err := b.engine.Context(ctx).Where("parent = ? AND name = ?", int64(parent), name).Get(&row)
	if err != nil {
		return nsinode.INode{}, nserr.Wrap(nserr.Internal, "stat", err)
	}
	if !ok {
		return nsinode.INode{}, nserr.New(nserr.NotFound, name)
	}
	return rowToINode(&row), nil
}

func (b *Backend) StatByGUID(ctx context.Context, guid string) (nsinode.INode, error) {
	var row inodeRow
	ok, err := b.engine.Context(ctx).Where("guid = ?", guid).Get(&row)
	if err != nil {
		return nsinode.INode{}, nserr.Wrap(nserr.Internal, "stat", err)
	}
	if !ok {
		return nsinode.INode{}, nserr.New(nserr.NotFound, guid)
	}
	return rowToINode(&row), nil
}

func (b *Backend) AddReplica(ctx context.Context, r nsinode.Replica) (nsinode.Replica, error) {
	extra, _ := json.Marshal(map[string]interface{}(r.Extra))
	row := &replicaRow{
		FileID: int64(r.FileID), StorageType: int8(r.StorageTyp), Status: int8(r.Status),
		Server: r.Server, PFN: r.PFN, Pool: r.Pool, FSTag: r.FSTag,
		CreateTime: time.Now().Unix(), Extra: string(extra),
	}
	if _, err := b.engine.Context(ctx).Insert(row); err != nil {
		return nsinode.Replica{}, nserr.Wrap(nserr.Internal, "insert replica", err)
	}
	r.ID = uint64(row.ID)
	r.CreateTime = time.Unix(row.CreateTime, 0)
	return r, nil
}

func (b *Backend) UpdateReplica(ctx context.Context, r nsinode.Replica) error {
	extra, _ := json.Marshal(map[string]interface{}(r.Extra))
	row := &replicaRow{
		Status: int8(r.Status), Server: r.Server, PFN: r.PFN,
		AccessCnt: int64(r.AccessCnt), AccessTime: r.AccessTime.Unix(),
		PinTime: r.PinTime.Unix(), LifeTime: r.LifeTime.Unix(), Extra: string(extra),
	}
	n, err := b.engine.Context(ctx).ID(int64(r.ID)).Cols("status", "server", "pfn", "access_cnt", "access_time", "pin_time", "life_time", "extra").Update(row)
	if err != nil {
		return nserr.Wrap(nserr.Internal, "update replica", err)
	}
	if n == 0 {
		return nserr.New(nserr.NotFound, "replica")
	}
	return nil
}

func (b *Backend) DeleteReplica(ctx context.Context, replicaID uint64) error {
	n, err := b.engine.Context(ctx).ID(int64(replicaID)).Delete(new(replicaRow))
	if err != nil {
		return nserr.Wrap(nserr.Internal, "delete replica", err)
	}
	if n == 0 {
		return nserr.New(nserr.NotFound, "replica")
	}
	return nil
}

func rowToReplica(r *replicaRow) nsinode.Replica {
	rep := nsinode.Replica{
		ID: uint64(r.ID), FileID: nsinode.Ino(r.FileID),
		StorageTyp: nsinode.ReplicaStorageType(r.StorageType), Status: nsinode.ReplicaStatus(r.Status),
		Server: r.Server, PFN: r.PFN, Pool: r.Pool, FSTag: r.FSTag, AccessCnt: uint64(r.AccessCnt),
		CreateTime: time.Unix(r.CreateTime, 0), AccessTime: time.Unix(r.AccessTime, 0),
		PinTime: time.Unix(r.PinTime, 0), LifeTime: time.Unix(r.LifeTime, 0),
	}
	if r.Extra != "" {
		var m map[string]interface{}
		if json.Unmarshal([]byte(r.Extra), &m) == nil {
			rep.Extra = m
		}
	}
	return rep
}

func (b *Backend) GetReplicas(ctx context.Context, fileID nsinode.Ino) ([]nsinode.Replica, error) {
	var rows []replicaRow
	if err := b.engine.Context(ctx).Where("file_id = ?", int64(fileID)).Find(&rows); err != nil {
		return nil, nserr.Wrap(nserr.Internal, "list replicas", err)
	}
	out := make([]nsinode.Replica, 0, len(rows))
	for i := range rows {
		out = append(out, rowToReplica(&rows[i]))
	}
	return out, nil
}

func (b *Backend) GetReplica(ctx context.Context, pfn string) (nsinode.Replica, error) {
	var row replicaRow
	ok, err := b.engine.Context(ctx).Where("pfn = ?", pfn).Get(&row)
	if err != nil {
		return nsinode.Replica{}, nserr.Wrap(nserr.Internal, "get replica", err)
	}
	if !ok {
		return nsinode.Replica{}, nserr.New(nserr.NotFound, pfn)
	}
	return rowToReplica(&row), nil
}

func (b *Backend) Utime(ctx context.Context, inode nsinode.Ino, atime, mtime int64) error {
	row := &inodeRow{}
	cols := []string{}
	if atime >= 0 {
		row.Atime = atime
		cols = append(cols, "atime")
	}
	if mtime >= 0 {
		row.Mtime = mtime
		cols = append(cols, "mtime")
	}
	if len(cols) == 0 {
		return nil
	}
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols(cols...).Update(row)
	if err != nil {
		return nserr.Wrap(nserr.Internal, "utime", err)
	}
	return nil
}

func (b *Backend) SetMode(ctx context.Context, inode nsinode.Ino, mode uint16) error {
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols("mode").Update(&inodeRow{Mode: int(mode)})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setmode", err)
	}
	return nil
}

func (b *Backend) SetOwner(ctx context.Context, inode nsinode.Ino, uid, gid int) error {
	cols := []string{}
	if uid >= 0 {
		cols = append(cols, "uid")
	}
	if gid >= 0 {
		cols = append(cols, "gid")
	}
	if len(cols) == 0 {
		return nil
	}
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols(cols...).Update(&inodeRow{UID: uid, GID: gid})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setowner", err)
	}
	return nil
}

func (b *Backend) SetSize(ctx context.Context, inode nsinode.Ino, size uint64) error {
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols("size").Update(&inodeRow{Size: int64(size)})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setsize", err)
	}
	return nil
}

func (b *Backend) SetChecksum(ctx context.Context, inode nsinode.Ino, csum nsinode.Checksum) error {
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols("checksum_type", "checksum_value").
		Update(&inodeRow{ChecksumType: csum.Type, ChecksumValue: csum.Value})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setchecksum", err)
	}
	return nil
}

func (b *Backend) SetGuid(ctx context.Context, inode nsinode.Ino, guid string) error {
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols("guid").Update(&inodeRow{GUID: guid})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setguid", err)
	}
	return nil
}

func (b *Backend) SetAcl(ctx context.Context, inode nsinode.Ino, acl nsacl.ACL) error {
	if err := acl.Validate(); err != nil {
		return err
	}
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols("acl").Update(&inodeRow{ACL: acl.Serialize()})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setacl", err)
	}
	return nil
}

func (b *Backend) GetComment(ctx context.Context, inode nsinode.Ino) (string, error) {
	var row inodeRow
	ok, err := b.engine.Context(ctx).ID(int64(inode)).Cols("comment").Get(&row)
	if err != nil {
		return "", nserr.Wrap(nserr.Internal, "getcomment", err)
	}
	if !ok {
		return "", nserr.New(nserr.NotFound, "inode")
	}
	return row.Comment, nil
}

func (b *Backend) SetComment(ctx context.Context, inode nsinode.Ino, comment string) error {
	_, err := b.engine.Context(ctx).ID(int64(inode)).Cols("comment").Update(&inodeRow{Comment: comment})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setcomment", err)
	}
	return nil
}

func (b *Backend) GetXattr(ctx context.Context, inode nsinode.Ino, name string) (interface{}, bool, error) {
	var row xattrRow
	ok, err := b.engine.Context(ctx).Where("ino = ? AND name = ?", int64(inode), name).Get(&row)
	if err != nil {
		return nil, false, nserr.Wrap(nserr.Internal, "getxattr", err)
	}
	if !ok {
		return nil, false, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(row.Value), &v); err != nil {
		return nil, false, nserr.Wrap(nserr.Internal, "decode xattr", err)
	}
	return v, true, nil
}

func (b *Backend) SetXattr(ctx context.Context, inode nsinode.Ino, name string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nserr.Wrap(nserr.InvalidArgument, "xattr value", err)
	}
	n, err := b.engine.Context(ctx).Where("ino = ? AND name = ?", int64(inode), name).
		Cols("value").Update(&xattrRow{Value: string(encoded)})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "setxattr", err)
	}
	if n == 0 {
		if _, err := b.engine.Context(ctx).Insert(&xattrRow{Ino: int64(inode), Name: name, Value: string(encoded)}); err != nil {
			return nserr.Wrap(nserr.Internal, "insert xattr", err)
		}
	}
	return nil
}

func (b *Backend) RemoveXattr(ctx context.Context, inode nsinode.Ino, name string) error {
	_, err := b.engine.Context(ctx).Where("ino = ? AND name = ?", int64(inode), name).Delete(new(xattrRow))
	if err != nil {
		return nserr.Wrap(nserr.Internal, "removexattr", err)
	}
	return nil
}

func (b *Backend) ListXattr(ctx context.Context, inode nsinode.Ino) (map[string]interface{}, error) {
	var rows []xattrRow
	if err := b.engine.Context(ctx).Where("ino = ?", int64(inode)).Find(&rows); err != nil {
		return nil, nserr.Wrap(nserr.Internal, "listxattr", err)
	}
	out := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		var v interface{}
		if json.Unmarshal([]byte(row.Value), &v) == nil {
			out[row.Name] = v
		}
	}
	return out, nil
}

type dirIter struct {
	b       *Backend
	entries []nsinode.Entry
	pos     int
}

func (b *Backend) OpenDir(ctx context.Context, inode nsinode.Ino) (nsinode.Dir, error) {
	var parent inodeRow
	ok, err := b.engine.Context(ctx).ID(int64(inode)).Get(&parent)
	if err != nil {
		return nil, nserr.Wrap(nserr.Internal, "opendir", err)
	}
	if !ok {
		return nil, nserr.New(nserr.NotFound, "inode")
	}
	if parent.Type != int8(nsinode.TypeDir) {
		return nil, nserr.New(nserr.NotDirectory, "inode")
	}
	var rows []inodeRow
	if err := b.engine.Context(ctx).Where("parent = ?", int64(inode)).Find(&rows); err != nil {
		return nil, nserr.Wrap(nserr.Internal, "readdir", err)
	}
	entries := make([]nsinode.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, nsinode.Entry{Name: r.Name, Ino: nsinode.Ino(r.ID)})
	}
	return &dirIter{b: b, entries: entries}, nil
}

func (d *dirIter) ReadDir() (nsinode.Entry, bool) {
	if d.pos >= len(d.entries) {
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
	n, err := d.b.StatByIno(context.Background(), e.Ino)
	if err != nil {
		return nsinode.INode{}, false
	}
	return n, true
}

func (d *dirIter) Close() error {
	d.entries = nil
	return nil
}

