package nssecurity

import "github.com/dmgrid/nsfabric/pkg/nsvalue"

// Mechanism identifies the credential mechanism used to authenticate a
// client, per spec.md §3 SecurityCredentials.
type Mechanism string

const (
	MechanismX509 Mechanism = "x509"
	MechanismGSI  Mechanism = "gsi"
	MechanismNone Mechanism = "none"
)

// Credentials is the raw, externally-supplied identity presented by a
// client before translation.
type Credentials struct {
	Mechanism Mechanism
	ClientDN  string
	RemoteIP  string
	FQANs     []string
	SessionID string
}

// UserInfo mirrors spec.md §3.
type UserInfo struct {
	UID    int
	Name   string
	Banned bool
	Extra  nsvalue.Map
}

// GroupInfo mirrors spec.md §3.
type GroupInfo struct {
	GID    int
	Name   string
	Banned bool
	Extra  nsvalue.Map
}

// Context is the resolved SecurityContext: a primary UserInfo, the list of
// all GroupInfos the user belongs to (the first being primary), and the
// credentials it was resolved from.
type Context struct {
	User        UserInfo
	Groups      []GroupInfo
	Credentials Credentials
}

// PrimaryGroup returns the first group, or the zero value if the user
// belongs to none.
func (c Context) PrimaryGroup() GroupInfo {
	if len(c.Groups) == 0 {
		return GroupInfo{}
	}
	return c.Groups[0]
}

// InGroup reports whether gid is among the context's groups and not banned,
// mirroring dmlite's gidInGroups.
func (c Context) InGroup(gid int) bool {
	for _, g := range c.Groups {
		if g.GID == gid && !g.Banned {
			return true
		}
	}
	return false
}

// IsRoot reports whether the resolved user is uid 0.
func (c Context) IsRoot() bool { return c.User.UID == 0 }

// TokenIdentity returns the value used as the "userId" field of a capability
// token, per spec.md §4.4's TokenId config knob (ip|dn).
type TokenIDMode string

const (
	TokenIDByDN TokenIDMode = "dn"
	TokenIDByIP TokenIDMode = "ip"
)

func (c Context) TokenIdentity(mode TokenIDMode) string {
	if mode == TokenIDByIP {
		return c.Credentials.RemoteIP
	}
	return c.Credentials.ClientDN
}

// Tunnelling identities reserved for disk-to-disk transfers (spec.md §4.4).
const (
	TunnelUserRoot    = "root"
	TunnelUserGeneric = "generic"
)

func IsTunnelIdentity(userID string) bool {
	return userID == TunnelUserRoot || userID == TunnelUserGeneric
}
