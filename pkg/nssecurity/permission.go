package nssecurity

import (
	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
)

// Mode bits requested of CheckPermissions, matching the rwx shifts used
// throughout dmlite (mode >> 6 for owner, >> 3 for group, plain for other).
const (
	ModeRead    uint8 = 4
	ModeWrite   uint8 = 2
	ModeExecute uint8 = 1
)

// Stat is the minimal subset of an entry's metadata CheckPermissions needs:
// owning uid/gid and the POSIX mode bits.
type Stat struct {
	UID  int
	GID  int
	Mode uint16
}

// CheckPermissions decides whether ctx may access an entry described by
// (acl, stat) with the requested rwx bits, returning nil if allowed or a
// Permission error otherwise. This is a direct port of dmlite's
// common/Security.cpp dmlite::checkPermissions, including its precedence
// order (spec.md §4.3):
//
//  1. uid 0 -> allow.
//  2. banned user -> deny.
//  3. owner -> check the owner triple.
//  4. no ACL -> group triple if a member, else other triple.
//  5. ACL present -> MASK on group-class entries; the USER entry whose id
//     equals the caller's uid, if any; GROUP_OBJ then ACL_GROUP
//     entries accumulated across every group the caller belongs to; OTHER
//     as the fallback.
func CheckPermissions(ctx Context, acl nsacl.ACL, stat Stat, requested uint8) error {
	if ctx.User.UID == 0 {
		return nil
	}
	if ctx.User.Banned {
		return permErr()
	}

	if stat.UID == ctx.User.UID {
		ownerPerm := uint8(stat.Mode>>6) & 0x7
		if ownerPerm&requested != requested {
			return permErr()
		}
		return nil
	}

	if len(acl) == 0 {
		inGroup := stat.GID == ctx.PrimaryGroup().GID && !ctx.PrimaryGroup().Banned || ctx.InGroup(stat.GID)
		var perm uint8
		if inGroup {
			perm = uint8(stat.Mode>>3) & 0x7
		} else {
			perm = uint8(stat.Mode) & 0x7
		}
		if perm&requested != requested {
			return permErr()
		}
		return nil
	}

	mask := uint8(0x7)
	if m, ok := acl.Find(nsacl.Mask, 0); ok {
		mask = m.Perm
	}

	// USER entries: the first one whose id equals the caller's uid wins.
	var matchedUser *nsacl.Entry
	for i := range acl {
		e := acl[i]
		if e.Type != nsacl.User {
			continue
		}
		if e.ID == ctx.User.UID {
			matchedUser = &acl[i]
			break
		}
	}
	if matchedUser != nil {
		if matchedUser.Perm&mask&requested != requested {
			return permErr()
		}
		return nil
	}

	groupObj, _ := acl.Find(nsacl.GroupObj, 0)
	var accPerm uint8
	nGroups := 0
	if stat.GID == groupObj.ID && !ctx.PrimaryGroup().Banned && stat.GID == ctx.PrimaryGroup().GID {
		accPerm |= groupObj.Perm
		nGroups++
	} else if ctx.InGroup(groupObj.ID) {
		accPerm |= groupObj.Perm
		nGroups++
	}

	for _, e := range acl {
		if e.Type != nsacl.Group {
			continue
		}
		if ctx.InGroup(e.ID) || (e.ID == ctx.PrimaryGroup().GID && !ctx.PrimaryGroup().Banned) {
			accPerm |= e.Perm
			nGroups++
		}
	}

	if nGroups > 0 {
		if accPerm&mask&requested != requested {
			return permErr()
		}
		return nil
	}

	other, _ := acl.Find(nsacl.Other, 0)
	if other.Perm&requested != requested {
		return permErr()
	}
	return nil
}

func permErr() error {
	return nserr.New(nserr.Permission, "")
}
