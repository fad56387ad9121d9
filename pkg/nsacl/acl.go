// Package nsacl implements POSIX + extended ACL parsing, serialisation,
// validation and inheritance, grounded on dmlite's common/Security.cpp
// (deserializeAcl/serializeAcl/validateAcl) and the permission-check
// precedence described in spec.md §4.3.
package nsacl

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dmgrid/nsfabric/pkg/nserr"
)

// EntryType is the ACL entry type. DEFAULT is OR'd onto any of the base
// types to mark it as an inheritable default entry.
type EntryType byte

const (
	UserObj  EntryType = 1
	User     EntryType = 2
	GroupObj EntryType = 3
	Group    EntryType = 4
	Mask     EntryType = 5
	Other    EntryType = 6

	Default EntryType = 0x20 // OR'd modifier, matches ACL_DEFAULT in dmlite
)

// Base strips the Default modifier.
func (t EntryType) Base() EntryType { return t &^ Default }

// IsDefault reports whether the Default modifier is set.
func (t EntryType) IsDefault() bool { return t&Default != 0 }

// Entry is one (type, id, permission) triple.
type Entry struct {
	Type EntryType
	ID   int
	Perm uint8 // 3-bit rwx, 0..7
}

// ACL is an ordered list of entries. Ordering in memory is whatever the
// caller built; Serialize always emits entries sorted ascending by type, as
// dmlite's serializeAcl does.
type ACL []Entry

// Deserialize parses the wire format: "<typeChar><permDigit><id>" entries
// comma-separated, typeChar = '@' + type code.
func Deserialize(s string) (ACL, error) {
	if s == "" {
		return nil, nil
	}
	var acl ACL
	for _, tok := range strings.Split(s, ",") {
		if len(tok) < 2 {
			return nil, nserr.New(nserr.InvalidArgument, "malformed acl entry: "+tok)
		}
		typ := EntryType(tok[0] - '@')
		perm := tok[1] - '0'
		id, err := strconv.Atoi(tok[2:])
		if err != nil {
			return nil, nserr.Wrap(nserr.InvalidArgument, "malformed acl id: "+tok, err)
		}
		acl = append(acl, Entry{Type: typ, ID: id, Perm: uint8(perm)})
	}
	return acl, nil
}

// Serialize renders the ACL sorted ascending by type, matching dmlite's
// aclCompare + serializeAcl.
func (a ACL) Serialize() string {
	if len(a) == 0 {
		return ""
	}
	cp := make(ACL, len(a))
	copy(cp, a)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Type < cp[j].Type })

	var sb strings.Builder
	for i, e := range cp {
		sb.WriteByte('@' + byte(e.Type))
		sb.WriteByte('0' + byte(e.Perm))
		sb.WriteString(strconv.Itoa(e.ID))
		if i+1 < len(cp) {
			sb.WriteByte(',')
		}
	}
	return sb.String()
}

// Validate enforces invariant 3 of spec.md §3: exactly one USER_OBJ, one
// GROUP_OBJ, one OTHER; exactly one MASK entry when any USER/GROUP entry
// exists; the same rules for the DEFAULT subset when any default entry is
// present; no duplicated USER or GROUP (type, id); every perm in 0..7.
func (a ACL) Validate() error {
	if len(a) == 0 {
		return nil
	}
	var nUserObj, nUser, nGroupObj, nGroup, nMask, nOther int
	var nDUserObj, nDUser, nDGroupObj, nDGroup, nDMask, nDOther int
	seen := make(map[[2]int]bool, len(a))

	for _, e := range a {
		if e.Perm > 7 {
			return nserr.New(nserr.InvalidArgument, "invalid permission bits")
		}
		key := [2]int{int(e.Type), e.ID}
		if (e.Type.Base() == User || e.Type.Base() == Group) && seen[key] {
			return nserr.New(nserr.InvalidArgument, "duplicated user or group entry")
		}
		seen[key] = true

		isDefault := e.Type.IsDefault()
		switch e.Type.Base() {
		case UserObj:
			if isDefault {
				nDUserObj++
			} else {
				nUserObj++
			}
		case User:
			if isDefault {
				nDUser++
			} else {
				nUser++
			}
		case GroupObj:
			if isDefault {
				nDGroupObj++
			} else {
				nGroupObj++
			}
		case Group:
			if isDefault {
				nDGroup++
			} else {
				nGroup++
			}
		case Mask:
			if isDefault {
				nDMask++
			} else {
				nMask++
			}
		case Other:
			if isDefault {
				nDOther++
			} else {
				nOther++
			}
		default:
			return nserr.New(nserr.InvalidArgument, "invalid acl entry type")
		}
	}

	if nUserObj != 1 || nGroupObj != 1 || nOther != 1 {
		return nserr.New(nserr.InvalidArgument, "acl must have exactly one USER_OBJ, GROUP_OBJ and OTHER")
	}
	if (nUser > 0 || nGroup > 0) && nMask != 1 {
		return nserr.New(nserr.InvalidArgument, "acl with USER or GROUP entries requires exactly one MASK entry")
	}

	ndefs := nDUserObj + nDUser + nDGroupObj + nDGroup + nDMask + nDOther
	if ndefs > 0 {
		if nDUserObj != 1 || nDGroupObj != 1 || nDOther != 1 {
			return nserr.New(nserr.InvalidArgument, "default acl must have exactly one DEFAULT USER_OBJ, GROUP_OBJ and OTHER")
		}
		if (nDUser > 0 || nDGroup > 0) && nDMask != 1 {
			return nserr.New(nserr.InvalidArgument, "default acl with USER or GROUP entries requires exactly one DEFAULT MASK entry")
		}
	}
	return nil
}

// Find returns the entry of the given base type and id (ID is ignored for
// UserObj/GroupObj/Mask/Other), and whether it was found.
func (a ACL) Find(typ EntryType, id int) (Entry, bool) {
	for _, e := range a {
		if e.Type != typ {
			continue
		}
		if typ.Base() == User || typ.Base() == Group {
			if e.ID == id {
				return e, true
			}
			continue
		}
		return e, true
	}
	return Entry{}, false
}

// Defaults returns the subset of default entries, with the Default
// modifier stripped — used by Inherit to copy a parent directory's default
// ACL into a new child.
func (a ACL) Defaults() ACL {
	var out ACL
	for _, e := range a {
		if e.Type.IsDefault() {
			out = append(out, Entry{Type: e.Type.Base(), ID: e.ID, Perm: e.Perm})
		}
	}
	return out
}

// HasDefaultMask reports whether the parent carries a DEFAULT MASK entry.
func (a ACL) HasDefaultMask() bool {
	_, ok := a.Find(Mask|Default, 0)
	return ok
}
