// Package nsio implements the IODriver/IOHandler layer of spec.md §4.5:
// opening a pfn for byte-stream access, gated by the same capability
// tokens the PoolManager embeds into a Location's chunks.
package nsio

import (
	"context"
	"os"

	"github.com/dmgrid/nsfabric/pkg/nscatalog"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nslog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
	"github.com/dmgrid/nsfabric/pkg/nstoken"
	"github.com/dmgrid/nsfabric/pkg/nsvalue"
)

var logger = nslog.Get("nsio")

// Flag is the bitmask passed to createIOHandler, mirroring open(2)'s flags
// plus the kInsecure escape hatch of spec.md §4.5.
type Flag uint32

const (
	FlagRead Flag = 1 << iota
	FlagWrite
	FlagCreate
	FlagTruncate
	FlagAppend
	FlagInsecure
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// Whence values for IOHandler.Seek, matching io.Seeker/os.File.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)

// IOHandler is an open byte stream over a pfn (spec.md §4.5).
type IOHandler interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Readv(bufs [][]byte) (int, error)
	Writev(bufs [][]byte) (int, error)
	Pread(p []byte, off int64) (int, error)
	Pwrite(p []byte, off int64) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Tell() (int64, error)
	Flush() error
	Eof() bool
	Fstat() (os.FileInfo, error)
	Close() error
}

// Driver is the IODriver component (spec.md §3 KindIODriver): it creates
// IOHandlers for a pfn after checking the caller's capability token.
type Driver interface {
	nsplugin.Component
	CreateIOHandler(ctx context.Context, pfn string, flags Flag, extras nsvalue.Map, mode uint16) (IOHandler, error)
}

// Builtin is the reference IODriver: local filesystem pfns are opened
// directly; a pfn under /proc is served from the StackInstance's
// ProcCatalog as a read-only in-memory stream (spec.md §4.8).
type Builtin struct {
	si     *nsplugin.StackInstance
	secret string
}

// NewBuiltin constructs the IODriver. secret must match the PoolManager's
// token-signing secret (spec.md §4.4 "same HMAC secret").
func NewBuiltin(secret string) *Builtin {
	return &Builtin{secret: secret}
}

func (d *Builtin) ImplID() string                             { return "Builtin" }
func (d *Builtin) SetStackInstance(si *nsplugin.StackInstance) { d.si = si }

func (d *Builtin) callerUserID() string {
	if d.si == nil || d.si.SecurityContext() == nil {
		return nssecurity.TunnelUserRoot
	}
	return d.si.SecurityContext().TokenIdentity(d.si.TokenIDMode())
}

func (d *Builtin) verifyToken(pfn string, extras nsvalue.Map, wantWrite bool) error {
	token := extras.String("token")
	if token == "" {
		return nserr.New(nserr.InvalidToken, "missing token")
	}
	userID := d.callerUserID()
	if err := nstoken.ValidateErr(token, userID, pfn, d.secret, wantWrite); err != nil {
		if nssecurity.IsTunnelIdentity(userID) {
			if err2 := nstoken.ValidateErr(token, nssecurity.TunnelUserRoot, pfn, d.secret, wantWrite); err2 == nil {
				return nil
			}
		}
		return err
	}
	return nil
}

func (d *Builtin) procCatalog() *nscatalog.ProcCatalog {
	if d.si == nil {
		return nil
	}
	c, err := nscatalog.FromStack(d.si)
	if err != nil {
		return nil
	}
	pc, _ := c.(*nscatalog.ProcCatalog)
	return pc
}

// CreateIOHandler opens pfn, verifying the caller's token unless
// flags carries FlagInsecure (spec.md §4.5).
func (d *Builtin) CreateIOHandler(ctx context.Context, pfn string, flags Flag, extras nsvalue.Map, mode uint16) (IOHandler, error) {
	wantWrite := flags.has(FlagWrite)
	if !flags.has(FlagInsecure) {
		if err := d.verifyToken(pfn, extras, wantWrite); err != nil {
			return nil, err
		}
	}

	if pc := d.procCatalog(); pc != nil {
		if content, err := pc.ReadProcFile(pfn); err == nil {
			if wantWrite {
				return nil, nserr.New(nserr.Permission, pfn+": /proc files are read-only")
			}
			logger.Debugf("serving /proc content for %s (%d bytes)", pfn, len(content))
			return newMemHandler(content), nil
		}
	}

	return openFileHandler(pfn, flags, mode)
}
