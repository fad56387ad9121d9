package nssecurity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckPermissionsOwnerGroupOther(t *testing.T) {
	stat := Stat{UID: 100, GID: 200, Mode: 0640}

	owner := Context{User: UserInfo{UID: 100}, Groups: []GroupInfo{{GID: 200}}}
	assert.NoError(t, CheckPermissions(owner, nil, stat, ModeRead))
	assert.NoError(t, CheckPermissions(owner, nil, stat, ModeWrite))
	assert.Error(t, CheckPermissions(owner, nil, stat, ModeExecute))

	groupMember := Context{User: UserInfo{UID: 101}, Groups: []GroupInfo{{GID: 200}}}
	assert.NoError(t, CheckPermissions(groupMember, nil, stat, ModeRead))
	assert.Error(t, CheckPermissions(groupMember, nil, stat, ModeWrite))

	other := Context{User: UserInfo{UID: 102}, Groups: []GroupInfo{{GID: 201}}}
	assert.Error(t, CheckPermissions(other, nil, stat, ModeRead))
}

func TestCheckPermissionsRootAlwaysAllowed(t *testing.T) {
	stat := Stat{UID: 100, GID: 200, Mode: 0}
	root := Context{User: UserInfo{UID: 0}}
	assert.NoError(t, CheckPermissions(root, nil, stat, ModeRead|ModeWrite|ModeExecute))
}

func TestCheckPermissionsBannedDenied(t *testing.T) {
	stat := Stat{UID: 100, GID: 200, Mode: 0777}
	banned := Context{User: UserInfo{UID: 100, Banned: true}}
	assert.Error(t, CheckPermissions(banned, nil, stat, ModeRead))
}
