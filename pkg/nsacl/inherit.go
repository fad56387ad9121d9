package nsacl

// Inherit computes the ACL for a new entry created under parent, following
// spec.md §4.3 "ACL inheritance": if the parent carries a DEFAULT MASK or
// the new entry is a directory, each DEFAULT entry is copied as an
// effective entry (id substituted for USER_OBJ/GROUP_OBJ), and the mode is
// masked against the inherited permissions in the appropriate triple. On
// directories the DEFAULT entries are also copied unchanged so grandchildren
// inherit in turn.
//
// ownerUID/ownerGID fill in the USER_OBJ/GROUP_OBJ ids of the new entry.
func Inherit(parent ACL, isDir bool, ownerUID, ownerGID int, mode uint16) (effective ACL, inheritedMode uint16) {
	defaults := parent.Defaults()
	if len(defaults) == 0 || (!parent.HasDefaultMask() && !isDir) {
		return nil, mode
	}

	effective = make(ACL, 0, len(defaults)+len(defaults))
	for _, e := range defaults {
		eff := e
		switch e.Type {
		case UserObj:
			eff.ID = ownerUID
		case GroupObj:
			eff.ID = ownerGID
		}
		effective = append(effective, eff)
		if isDir {
			// Grandchildren inherit too: keep the DEFAULT copy verbatim.
			d := e
			d.Type = e.Type | Default
			effective = append(effective, d)
		}
	}

	// Mask the requested mode against the inherited owner/group/other bits.
	owner, _ := effective.Find(UserObj, ownerUID)
	group, _ := effective.Find(GroupObj, ownerGID)
	other, _ := effective.Find(Other, 0)
	newMode := uint16(owner.Perm)<<6 | uint16(group.Perm)<<3 | uint16(other.Perm)
	inheritedMode = mode & (newMode | 0o7000 /* keep setuid/setgid/sticky */)
	return effective, inheritedMode
}
