package nssecurity

import "github.com/dmgrid/nsfabric/pkg/nserr"

// Authn is the pluggable identity mapper: it resolves a DN/FQAN pair to a
// local UserInfo and GroupInfos. Concrete factories (LDAP-backed, VOMS
// mapfile-backed, a static table) are registered with the plugin manager
// the same way Catalog/INode/PoolManager factories are (spec.md §4.1).
type Authn interface {
	// GetIdMap resolves a user name (DN) and a list of group names (VOs)
	// to a UserInfo and the matching GroupInfos. Implementations may
	// auto-provision unknown identities; those that don't must fail with
	// nserr.NotFound ("no such user"/"no such group").
	GetIdMap(userName string, groupNames []string) (UserInfo, []GroupInfo, error)
}

// CreateContext maps credentials to a SecurityContext by resolving the
// client DN and the VO derived from each FQAN through authn, per spec.md
// §4.4's createSecurityContext.
func CreateContext(authn Authn, creds Credentials, resolveVO func(fqan string) (string, error)) (*Context, error) {
	groupNames := make([]string, 0, len(creds.FQANs))
	for _, fqan := range creds.FQANs {
		vo := VOFromRole(fqan)
		if resolveVO != nil {
			mapped, err := resolveVO(fqan)
			if err == nil && mapped != "" {
				vo = mapped
			}
		}
		groupNames = append(groupNames, vo)
	}

	user, groups, err := authn.GetIdMap(creds.ClientDN, groupNames)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return nil, nserr.New(nserr.Permission, creds.ClientDN)
	}
	return &Context{User: user, Groups: groups, Credentials: creds}, nil
}
